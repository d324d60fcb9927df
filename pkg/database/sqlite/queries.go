package sqlite

const (
	GetResponse = `SELECT "key", "kind", "status", "content_type", "etag", "payload", "stored_at", "ttl"
FROM responses
WHERE "key" = ? AND "expires_at" > ?;`

	UpsertResponse = `INSERT INTO responses ("key", "kind", "status", "content_type", "etag", "payload", "stored_at", "ttl", "expires_at")
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT ("key") DO UPDATE SET
  "kind" = excluded."kind",
  "status" = excluded."status",
  "content_type" = excluded."content_type",
  "etag" = excluded."etag",
  "payload" = excluded."payload",
  "stored_at" = excluded."stored_at",
  "ttl" = excluded."ttl",
  "expires_at" = excluded."expires_at";`

	DeleteExpired = `DELETE FROM responses WHERE "expires_at" <= ?;`
)
