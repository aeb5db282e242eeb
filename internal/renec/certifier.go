package renec

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CertifierType is the closed classification of certifying bodies.
type CertifierType string

// Known certifier classifications. Anything unrecognised is Unknown.
const (
	CertifierECE         CertifierType = "ECE"
	CertifierOC          CertifierType = "OC"
	CertifierGobierno    CertifierType = "GOBIERNO"
	CertifierUniversidad CertifierType = "UNIVERSIDAD"
	CertifierUnknown     CertifierType = "UNKNOWN"
)

// CertifierTypes lists every classification in reporting order.
var CertifierTypes = []CertifierType{
	CertifierECE,
	CertifierOC,
	CertifierGobierno,
	CertifierUniversidad,
	CertifierUnknown,
}

var certifierAliases = map[string]CertifierType{
	"ECE":                                   CertifierECE,
	"ENTIDAD DE CERTIFICACION":              CertifierECE,
	"ENTIDAD DE CERTIFICACION Y EVALUACION": CertifierECE,
	"OC":                                    CertifierOC,
	"ORGANISMO CERTIFICADOR":                CertifierOC,
	"GOB":                                   CertifierGobierno,
	"GOBIERNO":                              CertifierGobierno,
	"UNIV":                                  CertifierUniversidad,
	"UNIVERSIDAD":                           CertifierUniversidad,
}

// ClassifyCertifier maps a raw type label onto a CertifierType. Matching is
// case and accent insensitive; unrecognised labels yield CertifierUnknown.
func ClassifyCertifier(raw string) CertifierType {
	label := strings.ToUpper(Fold(raw))
	label = strings.ReplaceAll(label, ".", "")
	label = strings.Join(strings.Fields(label), " ")
	if label == "" {
		return CertifierUnknown
	}
	if t, ok := certifierAliases[label]; ok {
		return t
	}
	switch {
	case strings.HasPrefix(label, "UNIVERSIDAD"), strings.HasPrefix(label, "INSTITUCION EDUCATIVA"):
		return CertifierUniversidad
	case strings.HasPrefix(label, "GOBIERNO"), strings.HasPrefix(label, "DEPENDENCIA"):
		return CertifierGobierno
	case strings.HasPrefix(label, "ORGANISMO CERTIFICADOR"):
		return CertifierOC
	case strings.HasPrefix(label, "ENTIDAD DE CERTIFICACION"):
		return CertifierECE
	default:
		return CertifierUnknown
	}
}

// Fold strips diacritics so "Certificación" and "Certificacion" compare equal.
// Case is preserved.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
