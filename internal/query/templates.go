package query

// Display hints tell a renderer how to format a template's value.
const (
	DisplayCurrency = "currency"
	DisplayPercent  = "percent"
	DisplayNumber   = "number"
	DisplayRatio    = "ratio"
	DisplayBoolean  = "boolean"
	DisplayTable    = "table"
)

// Template is a named, pre-authored expression.
type Template struct {
	Expression string `json:"expression"`
	Display    string `json:"display"`
}

var templates = map[string]map[string]Template{
	"basic": {
		"latest_close":   {`data[0].close`, DisplayCurrency},
		"highest_close":  {`$max(data.close)`, DisplayCurrency},
		"lowest_close":   {`$min(data.close)`, DisplayCurrency},
		"average_close":  {`$average(data.close)`, DisplayCurrency},
		"average_volume": {`$round($average(data.volume))`, DisplayNumber},
		"trading_days":   {`count`, DisplayNumber},
	},
	"returns": {
		"period_return": {`(data[0].close - data[-1].close) / data[-1].close * 100`, DisplayPercent},
		"best_day":      {`$max($pctChanges(data.close))`, DisplayPercent},
		"worst_day":     {`$min($pctChanges(data.close))`, DisplayPercent},
		"positive_days": {`$count($filter($pctChanges(data.close), function($c) { $c > 0 }))`, DisplayNumber},
	},
	"volatility": {
		"daily_volatility":    {`$volatility(data.close)`, DisplayPercent},
		"trading_range":       {`$max(data.high) - $min(data.low)`, DisplayCurrency},
		"average_daily_range": {`$average(data.(high - low))`, DisplayCurrency},
	},
	"technical": {
		"sma_20":              {`$sma(data.close, 20)`, DisplayCurrency},
		"sma_50":              {`$sma(data.close, 50)`, DisplayCurrency},
		"sma_200":             {`$sma(data.close, 200)`, DisplayCurrency},
		"rsi_14":              {`$rsi(data.close, 14)`, DisplayNumber},
		"above_sma_50":        {`data[0].close > $sma(data.close, 50)`, DisplayBoolean},
		"range_position_52w":  {`$rangePosition(data.close, 252)`, DisplayRatio},
		"golden_cross_signal": {`$sma(data.close, 50) > $sma(data.close, 200)`, DisplayBoolean},
	},
	"patterns": {
		"up_days":             {`$count(data[close > open])`, DisplayNumber},
		"down_days":           {`$count(data[close < open])`, DisplayNumber},
		"split_adjusted_days": {`$count(data[split_adjusted])`, DisplayNumber},
		"high_volume_days":    {`($avg := $average(data.volume); data[volume > $avg * 2].date)`, DisplayTable},
		"closes_above_mean":   {`($avg := $average(data.close); $filter(data, function($d) { $d.close > $avg }).date)`, DisplayTable},
		"total_volume":        {`$reduce(data.volume, function($acc, $v) { $acc + $v })`, DisplayNumber},
	},
}

// Templates returns a copy of the template library keyed by category then name.
func Templates() map[string]map[string]Template {
	out := make(map[string]map[string]Template, len(templates))
	for category, named := range templates {
		cp := make(map[string]Template, len(named))
		for name, t := range named {
			cp[name] = t
		}
		out[category] = cp
	}
	return out
}

// LookupTemplate finds a template by name across categories.
func LookupTemplate(name string) (Template, bool) {
	for _, named := range templates {
		if t, ok := named[name]; ok {
			return t, true
		}
	}
	return Template{}, false
}
