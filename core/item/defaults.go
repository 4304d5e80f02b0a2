package item

// Classifications of the default pollutants
const (
	ClassInorganic = "무기물질"
	ClassMetal     = "금속"
	ClassVOC       = "휘발성유기화합물"
)

const unitConc = "mg/Sm³"

func limit(v float64) *float64 { return &v }

func pollutant(order int, key, name, englishName, class, unit string, lim float64) Item {
	return Item{
		Key:            key,
		Name:           name,
		EnglishName:    englishName,
		Unit:           unit,
		Limit:          limit(lim),
		Category:       CategoryPollutant,
		Classification: class,
		HasLimit:       true,
		IsActive:       true,
		Order:          order,
		InputType:      InputNumber,
		Options:        []string{},
	}
}

func auxiliary(order int, key, name, unit, inputType string, options ...string) Item {
	if options == nil {
		options = []string{}
	}
	return Item{
		Key:       key,
		Name:      name,
		Unit:      unit,
		Category:  CategoryAuxiliary,
		IsActive:  true,
		Order:     order,
		InputType: inputType,
		Options:   options,
	}
}

// DefaultItems returns the catalogue seeded on new installations:
// 30 pollutants with their national (class 1 site) emission limits and the sampling condition items.
func DefaultItems() []Item {
	return []Item{
		pollutant(1, "EA-I-0001", "먼지", "Dust", ClassInorganic, unitConc, 30),
		pollutant(2, "EA-I-0003", "암모니아", "Ammonia", ClassInorganic, "ppm", 100),
		pollutant(3, "EA-I-0004", "일산화탄소", "Carbon monoxide", ClassInorganic, "ppm", 200),
		pollutant(4, "EA-I-0005", "염화수소", "Hydrogen chloride", ClassInorganic, "ppm", 30),
		pollutant(5, "EA-I-0006", "염소", "Chlorine", ClassInorganic, "ppm", 10),
		pollutant(6, "EA-I-0007", "황산화물", "Sulfur oxides", ClassInorganic, "ppm", 50),
		pollutant(7, "EA-I-0008", "질소산화물", "Nitrogen oxides", ClassInorganic, "ppm", 100),
		pollutant(8, "EA-I-0009", "이황화탄소", "Carbon disulfide", ClassInorganic, "ppm", 10),
		pollutant(9, "EA-I-0010", "황화수소", "Hydrogen sulfide", ClassInorganic, "ppm", 20),
		pollutant(10, "EA-I-0011", "플루오린화합물", "Fluorides", ClassInorganic, "ppm", 10),
		pollutant(11, "EA-I-0012", "사이안화수소", "Hydrogen cyanide", ClassInorganic, "ppm", 5),
		pollutant(12, "EA-I-0013", "매연", "Smoke", ClassInorganic, "도", 2),
		pollutant(13, "EA-M-0001", "비소화합물", "Arsenic compounds", ClassMetal, "ppm", 1.5),
		pollutant(14, "EA-M-0002", "카드뮴화합물", "Cadmium compounds", ClassMetal, unitConc, 0.5),
		pollutant(15, "EA-M-0003", "납화합물", "Lead compounds", ClassMetal, unitConc, 5),
		pollutant(16, "EA-M-0004", "크로뮴화합물", "Chromium compounds", ClassMetal, unitConc, 1),
		pollutant(17, "EA-M-0005", "구리화합물", "Copper compounds", ClassMetal, unitConc, 10),
		pollutant(18, "EA-M-0006", "니켈화합물", "Nickel compounds", ClassMetal, unitConc, 2),
		pollutant(19, "EA-M-0007", "아연화합물", "Zinc compounds", ClassMetal, unitConc, 30),
		pollutant(20, "EA-M-0008", "수은화합물", "Mercury compounds", ClassMetal, unitConc, 0.08),
		pollutant(21, "EA-V-0001", "폼알데하이드", "Formaldehyde", ClassVOC, "ppm", 10),
		pollutant(22, "EA-V-0002", "아세트알데하이드", "Acetaldehyde", ClassVOC, "ppm", 50),
		pollutant(23, "EA-V-0044", "벤젠", "Benzene", ClassVOC, "ppm", 10),
		pollutant(24, "EA-V-0045", "총탄화수소", "Total hydrocarbons", ClassVOC, "ppm", 400),
		pollutant(25, "EA-V-0046", "사염화탄소", "Carbon tetrachloride", ClassVOC, "ppm", 10),
		pollutant(26, "EA-V-0047", "클로로포름", "Chloroform", ClassVOC, "ppm", 30),
		pollutant(27, "EA-V-0048", "염화바이닐", "Vinyl chloride", ClassVOC, "ppm", 10),
		pollutant(28, "EA-V-0056", "다이클로로메테인", "Dichloromethane", ClassVOC, "ppm", 50),
		pollutant(29, "EA-V-0063", "트라이클로로에틸렌", "Trichloroethylene", ClassVOC, "ppm", 100),
		pollutant(30, "EA-V-0069", "테트라클로로에틸렌", "Tetrachloroethylene", ClassVOC, "ppm", 50),

		auxiliary(101, AuxWeather, "기상", "", InputSelect, "맑음", "흐림", "비", "눈"),
		auxiliary(102, AuxTemperature, "기온", "℃", InputNumber),
		auxiliary(103, AuxHumidity, "습도", "%", InputNumber),
		auxiliary(104, AuxPressure, "기압", "mmHg", InputNumber),
		auxiliary(105, AuxWindDirection, "풍향", "", InputSelect, "N", "NE", "E", "SE", "S", "SW", "W", "NW"),
		auxiliary(106, AuxWindSpeed, "풍속", "m/s", InputNumber),
		auxiliary(107, AuxGasVelocity, "가스속도", "m/s", InputNumber),
		auxiliary(108, AuxGasTemp, "가스온도", "℃", InputNumber),
		auxiliary(109, AuxMoisture, "수분량", "%", InputNumber),
		auxiliary(110, AuxOxygenMeasured, "실측산소농도", "%", InputNumber),
		auxiliary(111, AuxOxygenStd, "표준산소농도", "%", InputNumber),
		auxiliary(112, AuxFlow, "배출가스유량", "Sm³/min", InputNumber),
	}
}

// placeholderItem backs the measurement rows carrying only sampling conditions; never listed.
func placeholderItem() Item {
	it := auxiliary(999, AuxiliaryKey, "채취환경", "", InputNumber)
	it.IsActive = false
	return it
}
