package postgres

const (
	GetResponse = `SELECT "key", "kind", "status", "content_type", "etag", "payload", "stored_at", "ttl"
FROM responses
WHERE "key" = $1 AND "expires_at" > $2;`

	UpsertResponse = `INSERT INTO responses ("key", "kind", "status", "content_type", "etag", "payload", "stored_at", "ttl", "expires_at")
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT ("key") DO UPDATE SET
  "kind" = EXCLUDED."kind",
  "status" = EXCLUDED."status",
  "content_type" = EXCLUDED."content_type",
  "etag" = EXCLUDED."etag",
  "payload" = EXCLUDED."payload",
  "stored_at" = EXCLUDED."stored_at",
  "ttl" = EXCLUDED."ttl",
  "expires_at" = EXCLUDED."expires_at";`

	DeleteExpired = `DELETE FROM responses WHERE "expires_at" <= $1;`
)
