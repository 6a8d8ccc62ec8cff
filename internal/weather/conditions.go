package weather

// Icon names a display asset for a weather condition. The renderer owns the
// actual drawables; the sync channel only passes names around.
type Icon string

const (
	// IconUnresolved is returned for codes outside the classification table.
	IconUnresolved Icon = ""
	// IconDefault is shown whenever no condition icon can be resolved.
	IconDefault Icon = "default"

	IconStorm       Icon = "storm"
	IconLightRain   Icon = "light-rain"
	IconRain        Icon = "rain"
	IconSnow        Icon = "snow"
	IconFog         Icon = "fog"
	IconClear       Icon = "clear"
	IconLightClouds Icon = "light-clouds"
	IconClouds      Icon = "clouds"
)

// Resolver maps condition codes to display resources. Resolution is
// synchronous and total: unknown codes yield IconUnresolved / ok=false.
type Resolver interface {
	Icon(conditionID int) Icon
	Label(conditionID int) (string, bool)
}

// ConditionTable resolves OpenWeatherMap condition codes.
// https://openweathermap.org/weather-conditions
type ConditionTable struct{}

func (ConditionTable) Icon(id int) Icon {
	switch {
	case id >= 200 && id <= 232:
		return IconStorm
	case id >= 300 && id <= 321:
		return IconLightRain
	case id >= 500 && id <= 504:
		return IconRain
	case id == 511:
		return IconSnow
	case id >= 520 && id <= 531:
		return IconRain
	case id >= 600 && id <= 622:
		return IconSnow
	case id >= 701 && id <= 761:
		return IconFog
	case id == 781:
		return IconStorm
	case id == 800:
		return IconClear
	case id == 801 || id == 802:
		return IconLightClouds
	case id == 803 || id == 804:
		return IconClouds
	default:
		return IconUnresolved
	}
}

func (ConditionTable) Label(id int) (string, bool) {
	switch {
	case id >= 200 && id <= 232:
		return "Storm", true
	case id >= 300 && id <= 321:
		return "Drizzle", true
	}
	label, ok := conditionLabels[id]
	return label, ok
}

var conditionLabels = map[int]string{
	500: "Light Rain",
	501: "Moderate Rain",
	502: "Heavy Rain",
	503: "Intense Rain",
	504: "Extreme Rain",
	511: "Freezing Rain",
	520: "Light Shower",
	521: "Shower",
	522: "Heavy Shower",
	531: "Ragged Shower",
	600: "Light Snow",
	601: "Snow",
	602: "Heavy Snow",
	611: "Sleet",
	612: "Shower Sleet",
	615: "Light Rain and Snow",
	616: "Rain and Snow",
	620: "Light Shower Snow",
	621: "Shower Snow",
	622: "Heavy Shower Snow",
	701: "Mist",
	711: "Smoke",
	721: "Haze",
	731: "Sand, Dust",
	741: "Fog",
	751: "Sand",
	761: "Dust",
	762: "Volcanic Ash",
	771: "Squalls",
	781: "Tornado",
	800: "Clear",
	801: "Mostly Clear",
	802: "Few Clouds",
	803: "Broken Clouds",
	804: "Overcast Clouds",
	900: "Tornado",
	901: "Tropical Storm",
	902: "Hurricane",
	903: "Cold",
	904: "Hot",
	905: "Windy",
	906: "Hail",
	951: "Calm",
	952: "Light Breeze",
	953: "Gentle Breeze",
	954: "Breeze",
	955: "Fresh Breeze",
	956: "Strong Breeze",
	957: "Near Gale",
	958: "Gale",
	959: "Severe Gale",
	960: "Storm",
	961: "Violent Storm",
	962: "Hurricane",
}
