// Package lookup fornece o adapter HTTP do motor de consulta.
//
// Visão geral (camadas):
//
//   - domain: chaves, resultados, erros e contratos (sem dependência de net/http)
//   - application: o motor (coalescência, lotes, despacho com rate limit e retry)
//     e as regras de throttle/concorrência, sem net/http
//   - infra: implementações concretas (otter, Redis, Badger, cliente HTTP do
//     registro, token bucket, semáforo, Prometheus)
//   - lookup (este pacote): rotas chi, middlewares de throttle e concorrência e
//     tradução de erros para status/headers
//
// Fluxo de uma consulta:
//
//  1. Extrai a chave do cliente (IP/header/XFF) e aplica o throttle (429)
//  2. Adquire uma vaga de concorrência (503 se esgotar o timeout)
//  3. Chama o Service: cache -> store -> lote no registro externo
//  4. Traduz o resultado: 200 encontrado, 404 não encontrado, 400 chave
//     inválida, 502 lote falhou, 503 serviço encerrado
//
// Variáveis de ambiente do binário (cmd/lookupd) controlam o comportamento,
// como LOOKUP_BATCH_WINDOW, RATE_RPS, CONCURRENCY_MAX e REDIS_ADDR.
package lookup
