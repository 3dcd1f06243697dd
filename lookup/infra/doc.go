// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - Gate: uma chamada por vez ao registro externo e intervalo mínimo entre
//     chamadas (golang.org/x/time/rate)
//   - OtterCache / RedisCache / TieredCache: nível de cache com TTL
//   - BadgerStore: armazenamento durável (badger + msgpack)
//   - RedisJournal: lotes READY que sobrevivem a um restart
//   - ANAFClient: cliente HTTP do registro externo
//   - ClientLimiters: token bucket por cliente para a borda HTTP
//   - ChanPool: semáforo simples para limite de concorrência
package infra
