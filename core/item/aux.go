package item

import "strings"

// AuxiliaryKey is the item key of measurement rows that only carry sampling conditions.
const AuxiliaryKey = "auxiliary"

// Canonical auxiliary (sampling condition) item keys
const (
	AuxWeather        = "weather"
	AuxTemperature    = "temperature"
	AuxHumidity       = "humidity"
	AuxPressure       = "pressure"
	AuxWindDirection  = "wind_direction"
	AuxWindSpeed      = "wind_speed"
	AuxGasVelocity    = "gas_velocity"
	AuxGasTemp        = "gas_temp"
	AuxMoisture       = "moisture"
	AuxOxygenMeasured = "oxygen_measured"
	AuxOxygenStd      = "oxygen_std"
	AuxFlow           = "flow"
)

var (
	// AuxiliaryKeys lists the canonical auxiliary keys in display order.
	AuxiliaryKeys = []string{
		AuxWeather, AuxTemperature, AuxHumidity, AuxPressure, AuxWindDirection, AuxWindSpeed,
		AuxGasVelocity, AuxGasTemp, AuxMoisture, AuxOxygenMeasured, AuxOxygenStd, AuxFlow,
	}

	auxAliases = map[string]string{
		"temp":        AuxTemperature,
		"wind_dir":    AuxWindDirection,
		"o2_measured": AuxOxygenMeasured,
		"o2_standard": AuxOxygenStd,
		"flow_rate":   AuxFlow,
	}
)

// CanonicalAuxKey resolves an auxiliary key or one of its aliases.
func CanonicalAuxKey(key string) (string, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if alias, ok := auxAliases[key]; ok {
		return alias, true
	}
	for _, k := range AuxiliaryKeys {
		if k == key {
			return k, true
		}
	}
	return "", false
}

func IsAuxiliary(key string) bool {
	_, ok := CanonicalAuxKey(key)
	return ok
}

// IsTextAux reports whether the auxiliary item holds free text instead of a number.
func IsTextAux(key string) bool {
	k, _ := CanonicalAuxKey(key)
	return k == AuxWeather || k == AuxWindDirection
}
