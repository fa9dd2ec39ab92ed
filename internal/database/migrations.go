package database

const schema = `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    account TEXT NOT NULL,
    subject TEXT,
    from_addr TEXT NOT NULL,
    to_addr TEXT,
    body_text TEXT,
    uid INTEGER NOT NULL,
    received_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(account, uid)
);

CREATE TABLE IF NOT EXISTS codes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
    code TEXT NOT NULL,
    consumed BOOLEAN DEFAULT false,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account, created_at);
CREATE INDEX IF NOT EXISTS idx_codes_message ON codes(message_id);
CREATE INDEX IF NOT EXISTS idx_codes_unconsumed ON codes(consumed, created_at);
`
