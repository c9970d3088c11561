// Package telemetry is the client for the hydrological telemetry provider.
//
// The provider speaks its own vocabulary (adopted rainfall, reservoir level and
// discharge, each with a quality flag). This package only translates that
// vocabulary into Measurement values; it does not validate or aggregate them.
package telemetry

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Credentials identify the service account used against the provider.
type Credentials struct {
	Identifier string
	Password   string
}

// Token is a bearer credential returned by Authenticate. It is shared read-only by
// every fetch of one batch.
type Token struct {
	Value      string
	ExpiresAt  *time.Time
	Identifier string
	Profile    string
}

// Expired reports whether the provider-declared validity has passed at now.
// Tokens without a declared validity never expire.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Measurement is one station reading as reported by the provider. Nil values were
// absent or null in the payload.
type Measurement struct {
	StationCode          string
	MeasuredAt           time.Time
	UpdatedAt            *time.Time
	Rainfall             *float64
	RainfallStatus       string
	ReservoirLevel       *float64
	ReservoirLevelStatus string
	Discharge            *float64
	DischargeStatus      string
}

// envelope is the wrapper shared by every provider response. Its status and code
// fields are not read, so they are not decoded.
type envelope[T any] struct {
	Message flexString `json:"message"`
	Items   T          `json:"items"`
}

type authItems struct {
	Success    flexBool   `json:"sucesso"`
	Token      string     `json:"tokenautenticacao"`
	Validity   flexString `json:"validade"`
	Identifier flexString `json:"identificador"`
	Profile    flexString `json:"perfil"`
}

//nolint: tagliatelle
type readingItem struct {
	Rainfall             flexFloat  `json:"Chuva_Adotada"`
	RainfallStatus       flexString `json:"Chuva_Adotada_Status"`
	ReservoirLevel       flexFloat  `json:"Cota_Adotada"`
	ReservoirLevelStatus flexString `json:"Cota_Adotada_Status"`
	UpdatedAt            flexString `json:"Data_Atualizacao"`
	MeasuredAt           flexString `json:"Data_Hora_Medicao"`
	Discharge            flexFloat  `json:"Vazao_Adotada"`
	DischargeStatus      flexString `json:"Vazao_Adotada_Status"`
	StationCode          flexString `json:"codigoestacao"`
}

var nullLiteral = []byte("null")

// flexFloat accepts a JSON number, a numeric string using '.' or ',' as the decimal
// separator, an empty string or null. Anything unparseable decodes as absent.
type flexFloat struct {
	Value *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	f.Value = nil

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, nullLiteral) {
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}

		raw = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	}

	if raw == "" {
		return nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}

	f.Value = &v

	return nil
}

// flexString accepts a JSON string, number, boolean or null and keeps its text.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, nullLiteral) {
		*s = ""

		return nil
	}

	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}

		*s = flexString(strings.TrimSpace(v))

		return nil
	}

	*s = flexString(data)

	return nil
}

// flexBool accepts true/false, "true"/"false", "1"/"0" and 1/0.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}

	switch strings.ToLower(string(s)) {
	case "true", "1", "s", "sim":
		*b = true
	default:
		*b = false
	}

	return nil
}

// Timestamp layouts seen in provider payloads. Layouts without a zone are read in
// the client's location.
var timestampLayouts = []string{
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02",
}

func parseTimestamp(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
