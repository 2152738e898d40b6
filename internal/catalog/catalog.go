// Package catalog holds the static instrument universe: ~135 synthetic
// instruments across four types. The catalog is loaded once at startup and
// never mutated; every session prices the same universe independently.
package catalog

import (
	"fmt"

	"marketsim/pkg/types"
)

// Catalog is an immutable instrument universe with symbol lookup.
type Catalog struct {
	instruments []types.Instrument
	bySymbol    map[string]types.Instrument
}

// New builds a catalog from a list of instruments. Duplicate symbols are an
// error: the simulator keys all per-session state by symbol.
func New(instruments []types.Instrument) (*Catalog, error) {
	bySymbol := make(map[string]types.Instrument, len(instruments))
	for _, inst := range instruments {
		if inst.Symbol == "" || len(inst.Symbol) > 5 {
			return nil, fmt.Errorf("invalid symbol %q", inst.Symbol)
		}
		if inst.BasePrice <= 0 {
			return nil, fmt.Errorf("%s: base price must be positive", inst.Symbol)
		}
		if inst.BaseVolatility <= 0 {
			return nil, fmt.Errorf("%s: base volatility must be positive", inst.Symbol)
		}
		if _, dup := bySymbol[inst.Symbol]; dup {
			return nil, fmt.Errorf("duplicate symbol %q", inst.Symbol)
		}
		bySymbol[inst.Symbol] = inst
	}
	return &Catalog{instruments: instruments, bySymbol: bySymbol}, nil
}

// Default returns the built-in universe.
func Default() *Catalog {
	c, err := New(defaultInstruments)
	if err != nil {
		// The built-in table is validated by tests; a bad entry is a bug.
		panic(err)
	}
	return c
}

// Lookup returns the instrument for a (normalized) symbol.
func (c *Catalog) Lookup(symbol string) (types.Instrument, bool) {
	inst, ok := c.bySymbol[types.NormalizeSymbol(symbol)]
	return inst, ok
}

// All returns the full universe in catalog order. Callers must not mutate.
func (c *Catalog) All() []types.Instrument {
	return c.instruments
}

// Len returns the number of instruments.
func (c *Catalog) Len() int { return len(c.instruments) }

func g(sym, name string, price, vol float64) types.Instrument {
	return types.Instrument{Symbol: sym, Name: name, BasePrice: price, Type: types.TypeGrowth, BaseVolatility: vol}
}

func d(sym, name string, price, vol float64) types.Instrument {
	return types.Instrument{Symbol: sym, Name: name, BasePrice: price, Type: types.TypeDividend, BaseVolatility: vol}
}

func e(sym, name string, price, vol float64) types.Instrument {
	return types.Instrument{Symbol: sym, Name: name, BasePrice: price, Type: types.TypeETF, BaseVolatility: vol}
}

func b(sym, name string, price, vol float64) types.Instrument {
	return types.Instrument{Symbol: sym, Name: name, BasePrice: price, Type: types.TypeBond, BaseVolatility: vol}
}

var defaultInstruments = []types.Instrument{
	// Growth — technology
	g("NVTR", "Novatera Systems", 412.50, 0.042),
	g("QBIT", "Qubitware Computing", 188.20, 0.050),
	g("SYNH", "Synthetiq Holdings", 96.40, 0.038),
	g("ARCL", "Arclight Semiconductors", 245.75, 0.044),
	g("DRFT", "Driftwave Networks", 54.10, 0.035),
	g("PLXM", "Plexima Cloud", 321.00, 0.040),
	g("VLTA", "Voltaic Dynamics", 77.85, 0.046),
	g("CRBN", "Carbonix Materials", 38.60, 0.041),
	g("HLIO", "Heliodyne Energy", 112.30, 0.039),
	g("OPTC", "Opticore Photonics", 64.95, 0.043),
	g("NRLK", "Neuralink Labs Group", 152.40, 0.048),
	g("FNDR", "Foundry Robotics", 89.70, 0.037),
	g("SPRL", "Spiral Dynamics", 47.25, 0.045),
	g("ZENT", "Zenith Terraforms", 203.10, 0.036),
	g("KYBR", "Kyber Analytics", 131.55, 0.042),
	// Growth — biotech
	g("GNMX", "Genomix Therapeutics", 72.40, 0.050),
	g("CELV", "Cellvance Biosciences", 41.80, 0.047),
	g("PRTN", "Proteon Medical", 118.65, 0.044),
	g("VIRD", "Viridian Pharma", 26.30, 0.049),
	g("HLXB", "Helix Bioworks", 94.20, 0.046),
	g("NNOM", "Nanomend Devices", 58.75, 0.043),
	g("ONCL", "Oncolab Research", 147.90, 0.048),
	g("RGNR", "Regenera Health", 35.15, 0.045),
	// Growth — consumer & fintech
	g("SWFT", "Swiftpay Commerce", 84.50, 0.038),
	g("LMNA", "Lumina Retail Group", 43.20, 0.034),
	g("VYGR", "Voyager Mobility", 67.95, 0.040),
	g("BLSM", "Blossom Delivered", 29.40, 0.042),
	g("TRVN", "Traverse Bookings", 105.80, 0.036),
	g("PLTE", "Palette Streaming", 51.65, 0.039),
	g("MRCT", "Mercantile Exchange Co", 176.25, 0.035),
	g("FLXF", "Flexifund Capital", 92.10, 0.041),
	g("ORBT", "Orbit Gaming", 37.85, 0.047),
	g("CNDR", "Condor Aerospace", 214.50, 0.038),
	g("AZMT", "Azimuth Spaceworks", 156.70, 0.049),
	g("TIDL", "Tidal Hydrodynamics", 48.90, 0.040),
	g("EMBR", "Ember Grid Storage", 73.35, 0.044),
	g("SLNT", "Silentio Acoustics", 22.15, 0.037),
	g("FRGE", "Forgeline Additive", 61.40, 0.042),
	g("GLCR", "Glacier Cold Chain", 87.25, 0.033),
	g("MYCO", "Mycofarm Organics", 19.80, 0.046),
	g("PPLN", "Pipeline DevTools", 134.60, 0.041),
	g("RDAR", "Radarworks Defense", 198.35, 0.034),
	g("STLR", "Stellar Cartography", 82.45, 0.045),
	g("WVFN", "Wavefunction AI", 267.90, 0.050),
	g("XENO", "Xenograph Instruments", 59.15, 0.043),
	// Dividend — blue chips
	d("CNSL", "Consolidated Utilities", 78.40, 0.012),
	d("AMBR", "Amberline Power", 64.25, 0.011),
	d("HRTH", "Hearthstone Gas", 52.90, 0.013),
	d("NRTH", "Northcrest Water", 71.35, 0.010),
	d("GRNR", "Granary Foods", 88.60, 0.014),
	d("ORCH", "Orchard Brands", 95.15, 0.015),
	d("LNDM", "Landmark Insurance", 112.80, 0.016),
	d("PRVD", "Provident Mutual", 84.45, 0.013),
	d("STWD", "Steward Banking", 59.70, 0.018),
	d("CRSN", "Corner Stone Realty", 46.25, 0.017),
	d("HRBR", "Harborview Shipping", 38.90, 0.019),
	d("TMBR", "Timberline Paper", 42.55, 0.015),
	d("QRRY", "Quarryside Aggregates", 67.10, 0.014),
	d("FRMC", "Farmcore Equipment", 103.25, 0.016),
	d("BTLR", "Butler Household", 76.85, 0.012),
	d("CNDL", "Candlewick Consumer", 54.30, 0.013),
	d("PRLN", "Pearline Cosmetics", 91.70, 0.015),
	d("VNYD", "Vineyard Spirits", 83.95, 0.017),
	d("RLWY", "Railway Holdings", 128.40, 0.014),
	d("TLGR", "Telegraph Communications", 44.85, 0.016),
	d("PSTL", "Postal Logistics", 36.20, 0.015),
	d("MLLS", "Millstone Cement", 58.75, 0.013),
	d("ANCR", "Anchorline Marine", 49.60, 0.018),
	d("CLNL", "Colonial Textiles", 31.45, 0.016),
	d("GLDN", "Goldenfield Mining", 72.90, 0.020),
	d("SLVR", "Silvermont Extraction", 41.15, 0.019),
	d("CPPR", "Copperhead Industrial", 55.80, 0.018),
	d("IRNW", "Ironworks Fabrication", 63.45, 0.015),
	d("BRCK", "Brickyard Construction", 47.90, 0.014),
	d("WHRF", "Wharfside Terminals", 69.25, 0.013),
	// ETFs
	e("TMKT", "Total Market Index", 285.40, 0.010),
	e("GRWX", "Growth Composite", 198.75, 0.014),
	e("DIVX", "Dividend Aristocrat Index", 142.30, 0.008),
	e("TECX", "Technology Sector Index", 224.85, 0.015),
	e("HLTX", "Healthcare Sector Index", 156.20, 0.011),
	e("FINX", "Financial Sector Index", 118.65, 0.012),
	e("ENRX", "Energy Sector Index", 94.50, 0.014),
	e("MATX", "Materials Sector Index", 87.35, 0.012),
	e("INDX", "Industrial Sector Index", 132.90, 0.011),
	e("CNSX", "Consumer Staples Index", 104.45, 0.008),
	e("DSCX", "Consumer Discretionary Index", 147.80, 0.013),
	e("UTLX", "Utilities Sector Index", 76.25, 0.007),
	e("RELX", "Real Estate Index", 89.60, 0.010),
	e("SMCX", "Small Cap Composite", 112.35, 0.015),
	e("MDCX", "Mid Cap Composite", 158.70, 0.012),
	e("LGCX", "Large Cap Composite", 246.15, 0.009),
	e("INTX", "International Developed Index", 98.40, 0.011),
	e("EMGX", "Emerging Markets Index", 67.85, 0.015),
	e("PACX", "Pacific Rim Index", 84.20, 0.013),
	e("EURX", "European Composite", 91.55, 0.012),
	e("VALX", "Value Factor Index", 129.90, 0.009),
	e("MOMX", "Momentum Factor Index", 174.25, 0.014),
	e("QULX", "Quality Factor Index", 151.60, 0.008),
	e("LVOX", "Low Volatility Index", 108.95, 0.006),
	e("HIYX", "High Yield Equity Index", 96.30, 0.011),
	e("INFX", "Infrastructure Index", 73.65, 0.009),
	e("AGRX", "Agriculture Index", 58.20, 0.013),
	e("MTLX", "Precious Metals Index", 112.75, 0.015),
	e("WTRX", "Water Resources Index", 64.10, 0.008),
	e("CLNX", "Clean Energy Index", 81.45, 0.015),
	e("ROBX", "Robotics and Automation Index", 137.80, 0.014),
	e("CYBX", "Cybersecurity Index", 126.35, 0.013),
	e("SPCX", "Space Economy Index", 92.70, 0.015),
	e("BIOX", "Biotech Composite", 115.05, 0.015),
	e("GAMX", "Gaming and Media Index", 103.40, 0.014),
	// Bonds
	b("TBL2", "Treasury Ladder 2yr", 99.85, 0.004),
	b("TBL5", "Treasury Ladder 5yr", 98.40, 0.004),
	b("TBL10", "Treasury Ladder 10yr", 96.75, 0.005),
	b("TBL30", "Treasury Ladder 30yr", 92.30, 0.006),
	b("MUNI", "Municipal Bond Fund", 101.20, 0.004),
	b("CORP", "Corporate Bond Fund", 97.65, 0.005),
	b("HYBD", "High Yield Bond Fund", 88.90, 0.006),
	b("IGBD", "Investment Grade Bond Fund", 99.15, 0.004),
	b("AGBD", "Aggregate Bond Index", 100.40, 0.004),
	b("STBD", "Short Term Bond Fund", 100.85, 0.004),
	b("LTBD", "Long Term Bond Fund", 91.55, 0.006),
	b("TIPS", "Inflation Protected Fund", 103.70, 0.005),
	b("GLBD", "Global Bond Fund", 95.20, 0.005),
	b("EMBD", "Emerging Market Bonds", 86.45, 0.006),
	b("CNVT", "Convertible Bond Fund", 94.80, 0.006),
	b("FLRT", "Floating Rate Fund", 99.95, 0.004),
	b("MBSF", "Mortgage Backed Fund", 97.30, 0.005),
	b("ZERO", "Zero Coupon Ladder", 84.60, 0.006),
	b("SOVN", "Sovereign Debt Fund", 93.75, 0.005),
	b("RAIL", "Railbond Infrastructure", 96.10, 0.005),
	b("UTIL", "Utility Bond Fund", 98.55, 0.004),
	b("GRBD", "Green Bond Fund", 99.45, 0.004),
	b("PERP", "Perpetual Notes Fund", 89.20, 0.006),
	b("LADR", "Laddered Core Bonds", 100.10, 0.004),
	b("CSHX", "Cash Equivalent Fund", 100.00, 0.004),
}
