package filter

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// defaultCityRegions maps lowercase city and region mentions to canonical
// region names.
var defaultCityRegions = map[string]string{
	"москва":                "Москва",
	"санкт-петербург":       "Санкт-Петербург",
	"петербург":             "Санкт-Петербург",
	"спб":                   "Санкт-Петербург",
	"екатеринбург":          "Свердловская область",
	"новосибирск":           "Новосибирская область",
	"казань":                "Республика Татарстан",
	"нижний новгород":       "Нижегородская область",
	"челябинск":             "Челябинская область",
	"самара":                "Самарская область",
	"уфа":                   "Республика Башкортостан",
	"ростов-на-дону":        "Ростовская область",
	"ростов":                "Ростовская область",
	"краснодар":             "Краснодарский край",
	"воронеж":               "Воронежская область",
	"пермь":                 "Пермский край",
	"красноярск":            "Красноярский край",
	"волгоград":             "Волгоградская область",
	"омск":                  "Омская область",
	"тюмень":                "Тюменская область",
	"владивосток":           "Приморский край",
	"хабаровск":             "Хабаровский край",
	"ярославль":             "Ярославская область",
	"архангельск":           "Архангельская область",
	"сахалин":               "Сахалинская область",
	"свердловская область":  "Свердловская область",
	"ленобласть":            "Ленинградская область",
	"ленинградская область": "Ленинградская область",
	"московская область":    "Московская область",
	"подмосковье":           "Московская область",
}

var regionPattern = regexp.MustCompile(`(?i)([А-Яа-яё]+(?:ая|ий|ый)?)\s+(область|край|республика)`)

// RegionDetector maps city or region mentions to canonical region names.
type RegionDetector struct {
	mappings map[string]string
	// Scan order for the mappings. Sorted so multi-city texts always
	// resolve to the same region.
	cities []string
	titler cases.Caser
}

// NewRegionDetector builds a detector. Extra mappings extend and override
// the built-in city table; keys are matched lowercase.
func NewRegionDetector(extra map[string]string) *RegionDetector {
	m := make(map[string]string, len(defaultCityRegions)+len(extra))
	for k, v := range defaultCityRegions {
		m[k] = v
	}
	for k, v := range extra {
		m[strings.ToLower(k)] = v
	}

	cities := make([]string, 0, len(m))
	for k := range m {
		cities = append(cities, k)
	}
	sort.Strings(cities)

	return &RegionDetector{mappings: m, cities: cities, titler: cases.Title(language.Russian)}
}

// Detect resolves the region in priority order: the source's configured
// hint, a city mention in the title, a mention anywhere in the text, and
// finally a bare "<name> область|край|республика" pattern. Returns "" when
// nothing matches.
func (d *RegionDetector) Detect(title, text, sourceHint string) string {
	if sourceHint != "" {
		return sourceHint
	}

	titleLower := strings.ToLower(title)
	for _, city := range d.cities {
		if strings.Contains(titleLower, city) {
			return d.mappings[city]
		}
	}

	combined := titleLower + " " + strings.ToLower(text)
	for _, city := range d.cities {
		if strings.Contains(combined, city) {
			return d.mappings[city]
		}
	}

	if m := regionPattern.FindStringSubmatch(combined); m != nil {
		return d.titler.String(m[1]) + " " + strings.ToLower(m[2])
	}

	return ""
}
