// Package credit implements the credit ledger that the enhancement pipeline
// charges against. Reservations and refunds are atomic single-statement
// balance changes in the underlying store; the ledger adds pricing, input
// checks and the append-only transaction log on top.
package credit
