package citydistance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// EnvelopeShape описывает форму обёртки тела ответа.
type EnvelopeShape string

const (
	// ShapeBare значение без обёртки: список или число
	ShapeBare EnvelopeShape = "bare"
	// ShapeData значение в поле data
	ShapeData EnvelopeShape = "data"
	// ShapeDistanceKm значение в поле distanceKm
	ShapeDistanceKm EnvelopeShape = "distanceKm"
)

var (
	errInvalidJSON = errors.New("invalid JSON")
	errNoEnvelope  = errors.New("no known envelope shape matched")

	errResponseTooLarge = errors.New("response body too large")
)

// CitySuggestion подсказка по названию города.
type CitySuggestion struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CountryCode string `json:"countryCode,omitempty"`
	Country     string `json:"country,omitempty"`
	AdminRegion string `json:"adminRegion,omitempty"`
	Population  *int64 `json:"population,omitempty"`
	Flag        string `json:"flag"`
}

// DistanceResult результат расчёта расстояния.
//
// Kilometers заполнено только при Numeric == true. Если ни distanceKm, ни data
// в ответе нет, Raw содержит всё тело ответа как есть, даже если это объект.
type DistanceResult struct {
	Kilometers float64
	Numeric    bool
	Shape      EnvelopeShape
	Raw        json.RawMessage

	// Эхо-поля сервиса, если они есть в ответе
	City1   string
	City2   string
	Message string
}

// suggestionShapes проверяются строго по порядку
var suggestionShapes = []struct {
	shape  EnvelopeShape
	decode func(root json.RawMessage) ([]CitySuggestion, bool, error)
}{
	{ShapeBare, decodeSuggestionList},
	{ShapeData, decodeSuggestionData},
}

// decodeSuggestions разбирает тело ответа /suggestions
func decodeSuggestions(body []byte) ([]CitySuggestion, EnvelopeShape, error) {
	root := json.RawMessage(bytes.TrimSpace(body))
	if !json.Valid(root) {
		return nil, "", errInvalidJSON
	}

	for _, s := range suggestionShapes {
		list, ok, err := s.decode(root)
		if err != nil {
			return nil, s.shape, err
		}
		if ok {
			if list == nil {
				list = []CitySuggestion{}
			}
			return list, s.shape, nil
		}
	}

	return nil, "", errNoEnvelope
}

func decodeSuggestionList(root json.RawMessage) ([]CitySuggestion, bool, error) {
	if jsonKind(root) != '[' {
		return nil, false, nil
	}
	var list []CitySuggestion
	if err := json.Unmarshal(root, &list); err != nil {
		return nil, false, err
	}
	return list, true, nil
}

func decodeSuggestionData(root json.RawMessage) ([]CitySuggestion, bool, error) {
	data, ok := objectField(root, "data")
	if !ok || jsonKind(data) != '[' {
		return nil, false, nil
	}
	var list []CitySuggestion
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, false, err
	}
	return list, true, nil
}

// distanceShapes проверяются строго по порядку; последняя форма подходит всегда
var distanceShapes = []struct {
	shape EnvelopeShape
	pick  func(root json.RawMessage) (json.RawMessage, bool)
}{
	{ShapeDistanceKm, func(root json.RawMessage) (json.RawMessage, bool) { return objectField(root, "distanceKm") }},
	{ShapeData, func(root json.RawMessage) (json.RawMessage, bool) { return objectField(root, "data") }},
	{ShapeBare, func(root json.RawMessage) (json.RawMessage, bool) { return root, true }},
}

// decodeDistance разбирает тело ответа /distance
func decodeDistance(body []byte) (DistanceResult, error) {
	root := json.RawMessage(bytes.TrimSpace(body))
	if !json.Valid(root) {
		return DistanceResult{}, errInvalidJSON
	}

	var res DistanceResult
	for _, s := range distanceShapes {
		if value, ok := s.pick(root); ok {
			res.Shape = s.shape
			res.Raw = value
			break
		}
	}

	if jsonKind(res.Raw) == '0' {
		km, err := strconv.ParseFloat(string(res.Raw), 64)
		if err == nil {
			res.Kilometers = km
			res.Numeric = true
		}
	}

	if jsonKind(root) == '{' {
		var echo struct {
			City1   any    `json:"city1"`
			City2   any    `json:"city2"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(root, &echo); err == nil {
			res.City1 = scalarString(echo.City1)
			res.City2 = scalarString(echo.City2)
			res.Message = echo.Message
		}
	}

	return res, nil
}

// objectField возвращает значение поля объекта, если оно есть и не равно null
func objectField(root json.RawMessage, name string) (json.RawMessage, bool) {
	if jsonKind(root) != '{' {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(root, &obj); err != nil {
		return nil, false
	}
	v, ok := obj[name]
	if !ok || jsonKind(v) == 'n' {
		return nil, false
	}
	return v, true
}

// jsonKind возвращает первый значимый символ JSON значения; для чисел - '0'
func jsonKind(v json.RawMessage) byte {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return 0
	}
	switch c := v[0]; {
	case c == '-' || (c >= '0' && c <= '9'):
		return '0'
	default:
		return c
	}
}

// scalarString приводит эхо-идентификатор к строке
func scalarString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// serverMessage извлекает поле error или message из тела ответа с ошибкой.
// Возвращает сообщение и тело в виде, пригодном для ClientError.Raw.
func serverMessage(body []byte) (string, any) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", nil
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return "", string(trimmed)
	}

	if obj, ok := decoded.(map[string]any); ok {
		for _, key := range []string{"error", "message"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return s, decoded
			}
		}
	}

	return "", decoded
}
