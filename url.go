package citydistance

import "strings"

// NormalizeBaseURL приводит адрес сервиса к виду https://host[/path] без завершающего слеша.
//
// Схема всегда принудительно меняется на https, в том числе для явного http://,
// а ведущий "www." отбрасывается.
func NormalizeBaseURL(raw string) string {
	u := raw

	// Убираем схему
	if rest, ok := strings.CutPrefix(u, "http://"); ok {
		u = rest
	} else if rest, ok := strings.CutPrefix(u, "https://"); ok {
		u = rest
	}

	u = strings.TrimPrefix(u, "www.")

	// Только один завершающий слеш
	u = strings.TrimSuffix(u, "/")

	return "https://" + u
}
