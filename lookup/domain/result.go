package domain

// Value é o payload opaco devolvido pelo registro (o JSON do registro externo).
type Value []byte

// Outcome é a tag do resultado de uma consulta.
type Outcome uint8

const (
	OutcomeFound Outcome = iota + 1
	OutcomeNotFound
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Result é o resultado marcado: Found{Value} | NotFound | Error{Err}.
type Result struct {
	Outcome Outcome
	Value   Value
	Err     error
}

func Found(v Value) Result { return Result{Outcome: OutcomeFound, Value: v} }

func NotFound() Result { return Result{Outcome: OutcomeNotFound} }

func Failed(err error) Result { return Result{Outcome: OutcomeError, Err: err} }

// Unpack converte para a forma usada pelos chamadores: (valor, encontrado, erro).
// "Não encontrado" não é erro.
func (r Result) Unpack() (Value, bool, error) {
	switch r.Outcome {
	case OutcomeFound:
		return r.Value, true, nil
	case OutcomeError:
		return nil, false, r.Err
	default:
		return nil, false, nil
	}
}

// Entry é um par chave/valor encontrado pelo registro externo.
type Entry struct {
	Key   Key
	Value Value
}

// QueryResult é a partição found/notFound devolvida pelo registro externo.
type QueryResult struct {
	Found    []Entry
	NotFound []Key
}
