package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// Key é o identificador canônico enviado ao registro externo.
// Duas entradas brutas que normalizam para o mesmo valor são a mesma chave.
type Key string

func (k Key) String() string { return string(k) }

// Normalizer transforma a entrada do chamador em Key.
// Erros devem satisfazer errors.Is(err, ErrInvalidKey).
type Normalizer interface {
	Normalize(raw string) (Key, error)
}

type NormalizerFunc func(raw string) (Key, error)

func (f NormalizerFunc) Normalize(raw string) (Key, error) { return f(raw) }

// DefaultNormalizer remove espaços, converte para maiúsculas e aceita apenas
// letras, dígitos e os separadores '-', '_' e '.'.
var DefaultNormalizer Normalizer = NormalizerFunc(normalizeDefault)

// CUINormalizer aceita códigos fiscais romenos (CUI/CIF), com ou sem o
// prefixo "RO", e valida o dígito de controle.
var CUINormalizer Normalizer = NormalizerFunc(normalizeCUI)

func normalizeDefault(raw string) (Key, error) {
	s := compact(raw)
	if s == "" {
		return "", invalidKey(raw, "empty")
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			return "", invalidKey(raw, fmt.Sprintf("unexpected character %q", r))
		}
	}
	return Key(s), nil
}

func normalizeCUI(raw string) (Key, error) {
	s := strings.TrimPrefix(compact(raw), "RO")
	if s == "" {
		return "", invalidKey(raw, "empty")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", invalidKey(raw, "CUI must contain only digits")
		}
	}
	s = strings.TrimLeft(s, "0")
	if len(s) < 2 || len(s) > 10 {
		return "", invalidKey(raw, "CUI must have between 2 and 10 digits")
	}
	if !ValidCUI(s) {
		return "", invalidKey(raw, "control digit mismatch")
	}
	return Key(s), nil
}

// chave de controle oficial, alinhada à direita com os dígitos sem o controle
const cuiControlKey = "753217532"

// ValidCUI verifica o dígito de controle de um CUI já composto só por dígitos.
func ValidCUI(digits string) bool {
	if len(digits) < 2 || len(digits) > 10 {
		return false
	}
	body := digits[:len(digits)-1]
	control := int(digits[len(digits)-1] - '0')
	padded := strings.Repeat("0", len(cuiControlKey)-len(body)) + body

	sum := 0
	for i := range len(cuiControlKey) {
		sum += int(padded[i]-'0') * int(cuiControlKey[i]-'0')
	}
	c := sum * 10 % 11
	if c == 10 {
		c = 0
	}
	return c == control
}

// compact remove todo espaço em branco e converte para maiúsculas.
func compact(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func invalidKey(raw, reason string) error {
	return &InvalidKeyError{Raw: raw, Reason: reason}
}
