// Package domain define contratos e tipos de domínio do motor de consulta em lote.
//
// Este pacote não faz I/O nem depende de implementações concretas: chaves,
// lotes, resultados, taxonomia de erros e as interfaces dos colaboradores
// (cache, armazenamento durável, registro externo, journal) vivem aqui.
package domain
