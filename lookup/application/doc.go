// Package application contém os casos de uso do motor de consulta: coalescência
// de pedidos, montagem de lotes, despacho com rate limit e retry, e a resolução
// em três níveis (cache -> armazenamento durável -> registro externo).
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis.
// Ex.: Service.Resolve(ctx, "RO18547290") devolve (valor, encontrado, erro).
//
// Também ficam aqui as regras da borda HTTP que não dependem de HTTP
// (ThrottleService e ConcurrencyService).
package application
