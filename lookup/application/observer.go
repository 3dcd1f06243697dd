package application

import (
	"time"

	"lookup-gateway/lookup/domain"
)

// Observer recebe eventos do motor para métricas. As chamadas acontecem no
// caminho quente: implementações devem ser rápidas e não bloquear.
type Observer interface {
	BatchDispatched(size int)
	UpstreamAttempt(err error, took time.Duration)
	BatchCompleted(size int, failed bool)
	Resolved(source domain.Source)
}

type nopObserver struct{}

func (nopObserver) BatchDispatched(int) {}
func (nopObserver) UpstreamAttempt(error, time.Duration) {}
func (nopObserver) BatchCompleted(int, bool) {}
func (nopObserver) Resolved(domain.Source) {}
