package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey é erro do chamador e nunca é retentado.
	ErrInvalidKey = errors.New("invalid lookup key")
	// ErrBatchFailed é o único erro do registro externo que chega ao chamador.
	ErrBatchFailed = errors.New("lookup batch failed")
	// ErrClosed indica que o serviço já foi encerrado.
	ErrClosed = errors.New("lookup service closed")
)

type InvalidKeyError struct {
	Raw    string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid lookup key %q: %s", e.Raw, e.Reason)
}

func (e *InvalidKeyError) Is(target error) bool { return target == ErrInvalidKey }

// TransportError representa falha de transporte com o registro externo
// (rede, 5xx, 429). Fica contido no dispatcher, que retenta com backoff.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: upstream status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BatchFailedError é entregue a todos os waiters de um lote cujas tentativas
// se esgotaram. Cause guarda a última falha apenas para diagnóstico.
type BatchFailedError struct {
	BatchID  BatchID
	Attempts int
	Cause    error
}

func (e *BatchFailedError) Error() string {
	return fmt.Sprintf("lookup batch %s failed after %d attempt(s): %v", e.BatchID, e.Attempts, e.Cause)
}

func (e *BatchFailedError) Is(target error) bool { return target == ErrBatchFailed }

func (e *BatchFailedError) Unwrap() error { return e.Cause }

// StoreWriteError e CacheWriteError são efeitos colaterais: só vão para o log.
type StoreWriteError struct {
	Key Key
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Key, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

type CacheWriteError struct {
	Key Key
	Err error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("cache write %s: %v", e.Key, e.Err)
}

func (e *CacheWriteError) Unwrap() error { return e.Err }

// IsRetryable diz se uma falha de tentativa pode ser retentada: erros de
// transporte e o timeout de uma única tentativa.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
