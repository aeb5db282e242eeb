package collyfetcher

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// StripControlChars removes C0 and C1 control characters. The API embeds them
// inside string values, which breaks JSON decoding.
func StripControlChars(b []byte) []byte {
	return bytes.Map(func(r rune) rune {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return -1
		}
		return r
	}, b)
}

var errInvalidJSON = errors.New("invalid JSON payload")

type envelope struct {
	ResponseStatus *int            `json:"responseStatus"`
	Results        json.RawMessage `json:"results"`
}

// decodeEnvelope cleans body and unwraps the {responseStatus, results}
// envelope when present. ok is false when there is no record to decode.
func decodeEnvelope(body []byte) (json.RawMessage, bool, error) {
	body = bytes.TrimSpace(StripControlChars(body))
	if isEmptyJSON(body) {
		return nil, false, nil
	}
	if body[0] == '{' {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, false, err
		}
		if env.ResponseStatus != nil || env.Results != nil {
			if env.ResponseStatus != nil && *env.ResponseStatus != 200 {
				return nil, false, nil
			}
			results := bytes.TrimSpace(env.Results)
			if isEmptyJSON(results) {
				return nil, false, nil
			}
			return results, true, nil
		}
	}
	if !json.Valid(body) {
		return nil, false, errInvalidJSON
	}
	return body, true, nil
}

func isEmptyJSON(b []byte) bool {
	switch string(b) {
	case "", "null", "{}", "[]", `""`:
		return true
	default:
		return false
	}
}

// decodeStandard accepts a single object or a list of them; in a list the row
// matching code wins.
func decodeStandard(payload json.RawMessage, code string) (renec.ECStandard, bool, error) {
	var rows []standardWire
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &rows); err != nil {
			return renec.ECStandard{}, false, err
		}
	} else {
		var row standardWire
		if err := json.Unmarshal(payload, &row); err != nil {
			return renec.ECStandard{}, false, err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return renec.ECStandard{}, false, nil
	}
	pick := rows[0]
	for _, row := range rows {
		if strings.EqualFold(first(row.Codigo, row.Clave), code) {
			pick = row
			break
		}
	}
	std := pick.toStandard(code)
	if std.Title == "" && std.Description == "" && len(std.Certifiers) == 0 && len(std.TrainingCenters) == 0 {
		return renec.ECStandard{}, false, nil
	}
	return std, true, nil
}

// flexString decodes strings, numbers and booleans into trimmed text.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || string(b) == "null" || b[0] == '{' || b[0] == '[':
		*s = ""
	case b[0] == '"':
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(strings.Join(strings.Fields(v), " "))
	default:
		*s = flexString(b)
	}
	return nil
}

// flexInt decodes numbers and numeric strings; anything else is zero.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := strconv.Atoi(string(s))
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexInt(v)
	return nil
}

// flexBool decodes booleans, 0/1 and S/N style flags.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	switch strings.ToUpper(string(s)) {
	case "TRUE", "1", "S", "SI", "SÍ", "Y", "YES":
		*f = true
	default:
		*f = false
	}
	return nil
}

func first(values ...flexString) string {
	for _, v := range values {
		if v != "" {
			return string(v)
		}
	}
	return ""
}

type associatedWire struct {
	Codigo     flexString `json:"codigo"`
	Clave      flexString `json:"clave"`
	Titulo     flexString `json:"titulo"`
	Nombre     flexString `json:"nombre"`
	Sector     flexString `json:"sector"`
	IDEstandar *flexInt   `json:"idEstandar"`
	Operativo  flexBool   `json:"operativo"`
}

type committeeWire struct {
	Clave            flexString       `json:"clave"`
	Nombre           flexString       `json:"nombre"`
	Direccion        flexString       `json:"direccion"`
	Telefono         flexString       `json:"telefono"`
	Email            flexString       `json:"email"`
	URL              flexString       `json:"url"`
	SectorProductivo flexString       `json:"sectorProductivo"`
	FechaIntegracion flexString       `json:"fechaIntegracion"`
	Estandares       []associatedWire `json:"estandaresAsociados"`
}

func (w committeeWire) toCommittee(id int) renec.Committee {
	com := renec.Committee{
		ID:              id,
		Clave:           string(w.Clave),
		Name:            string(w.Nombre),
		Address:         string(w.Direccion),
		Phone:           string(w.Telefono),
		Email:           string(w.Email),
		URL:             string(w.URL),
		Sector:          string(w.SectorProductivo),
		IntegrationDate: string(w.FechaIntegracion),
	}
	for _, ec := range w.Estandares {
		code := first(ec.Codigo, ec.Clave)
		if code == "" {
			continue
		}
		assoc := renec.AssociatedEC{
			Code:        code,
			Title:       first(ec.Titulo, ec.Nombre),
			Sector:      string(ec.Sector),
			Operational: bool(ec.Operativo),
		}
		if ec.IDEstandar != nil {
			v := int(*ec.IDEstandar)
			assoc.StandardID = &v
		}
		com.Standards = append(com.Standards, assoc)
	}
	return com
}

type indexWire struct {
	Codigo flexString `json:"codigo"`
	Clave  flexString `json:"clave"`
	Titulo flexString `json:"titulo"`
	Nombre flexString `json:"nombre"`
}

type certifierWire struct {
	Nombre       flexString `json:"nombre"`
	RazonSocial  flexString `json:"razonSocial"`
	Tipo         flexString `json:"tipo"`
	TipoEntidad  flexString `json:"tipoEntidad"`
	Estado       flexString `json:"estado"`
	EntidadFeder flexString `json:"entidadFederativa"`
}

type centerWire struct {
	Nombre       flexString `json:"nombre"`
	RazonSocial  flexString `json:"razonSocial"`
	Estado       flexString `json:"estado"`
	EntidadFeder flexString `json:"entidadFederativa"`
}

type standardWire struct {
	Codigo           flexString      `json:"codigo"`
	Clave            flexString      `json:"clave"`
	ID               flexInt         `json:"id"`
	IDEstandar       flexInt         `json:"idEstandar"`
	Nivel            flexString      `json:"nivel"`
	Titulo           flexString      `json:"titulo"`
	Nombre           flexString      `json:"nombre"`
	Sector           flexString      `json:"sector"`
	SectorProductivo flexString      `json:"sectorProductivo"`
	Comite           flexString      `json:"comite"`
	FechaPublicacion flexString      `json:"fechaPublicacion"`
	VigenteHasta     flexString      `json:"vigenteHasta"`
	Vigencia         flexString      `json:"vigencia"`
	Descripcion      flexString      `json:"descripcion"`
	Proposito        flexString      `json:"proposito"`
	Certificadores   []certifierWire `json:"certificadores"`
	Centros          []centerWire    `json:"centrosCapacitacion"`
}

func (w standardWire) toStandard(code string) renec.ECStandard {
	std := renec.ECStandard{
		Code:        code,
		ID:          int(w.ID),
		Level:       string(w.Nivel),
		Title:       first(w.Titulo, w.Nombre),
		Sector:      first(w.Sector, w.SectorProductivo),
		Committee:   string(w.Comite),
		PublishedAt: string(w.FechaPublicacion),
		ValidUntil:  first(w.VigenteHasta, w.Vigencia),
		Description: first(w.Descripcion, w.Proposito),
	}
	if std.ID == 0 {
		std.ID = int(w.IDEstandar)
	}
	for _, c := range w.Certificadores {
		name := first(c.Nombre, c.RazonSocial)
		if name == "" {
			continue
		}
		std.Certifiers = append(std.Certifiers, renec.Certifier{
			Name:  name,
			Type:  first(c.Tipo, c.TipoEntidad),
			State: first(c.Estado, c.EntidadFeder),
		})
	}
	for _, c := range w.Centros {
		name := first(c.Nombre, c.RazonSocial)
		if name == "" {
			continue
		}
		std.TrainingCenters = append(std.TrainingCenters, renec.TrainingCenter{
			Name:  name,
			State: first(c.Estado, c.EntidadFeder),
		})
	}
	return std
}
