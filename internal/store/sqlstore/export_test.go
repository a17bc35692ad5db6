package sqlstore

// OpenPostgresDSN exposes the DSN-based constructor to integration tests.
var OpenPostgresDSN = openPostgresDSN
