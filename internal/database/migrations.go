package database

import "database/sql"

// legacyTable is the table the earlier Django site kept its articles in.
const legacyTable = "TheNewsContinent_article"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS articles (
    id TEXT PRIMARY KEY,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    author TEXT,
    description TEXT NOT NULL DEFAULT '',
    url_to_image TEXT,
    published_at TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    extractive_sum TEXT,
    abstractive_sum TEXT,
    language TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT '',
    extra TEXT,
    collected_at TEXT DEFAULT (datetime('now')),
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_articles_language ON articles(language);
CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "import legacy article table",
		Up: func(tx *sql.Tx) error {
			legacy, err := hasLegacyTable(tx)
			if err != nil || !legacy {
				return err
			}
			_, err = tx.Exec(`
INSERT OR IGNORE INTO articles (id, url, title, author, description, url_to_image, published_at, content)
SELECT id, url, title, author, COALESCE(description, ''), url_to_image,
       COALESCE(published_at, ''), COALESCE(content, '')
FROM "` + legacyTable + `"`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
