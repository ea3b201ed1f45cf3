package jobstore

const schema = `
CREATE TABLE IF NOT EXISTS phone_numbers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    number TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    phone_id INTEGER NOT NULL REFERENCES phone_numbers(id),
    status TEXT NOT NULL DEFAULT 'new',
    bank TEXT NOT NULL DEFAULT 'raif',
    provider TEXT,
    amount INTEGER,
    lease_id TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    leased_at TIMESTAMP,
    completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_phone_id ON jobs(phone_id);
`
