package store

// Schema contains the complete DDL for the pagekeeper tables.
const Schema = `
-- Pages: URLs scraped once a day at run_hour:run_minute
CREATE TABLE IF NOT EXISTS pages (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL DEFAULT '',
    run_hour    INTEGER NOT NULL DEFAULT 10 CHECK (run_hour BETWEEN 0 AND 23),
    run_minute  INTEGER NOT NULL DEFAULT 0 CHECK (run_minute BETWEEN 0 AND 59),
    enabled     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pages_enabled ON pages(enabled);

-- Elements: locator-addressed values on a page
CREATE TABLE IF NOT EXISTS elements (
    id           TEXT PRIMARY KEY,
    page_id      TEXT NOT NULL,
    locator      TEXT NOT NULL,
    metric_name  TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL,
    UNIQUE (page_id, locator),
    FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_elements_page ON elements(page_id);

-- Scraped values: append-only numeric history per element
CREATE TABLE IF NOT EXISTS element_data (
    id          TEXT PRIMARY KEY,
    element_id  TEXT NOT NULL,
    value       REAL,
    created_at  INTEGER NOT NULL,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_element_data_element ON element_data(element_id, created_at);

-- Page run logs: one row per run
CREATE TABLE IF NOT EXISTS page_logs (
    id          TEXT PRIMARY KEY,
    page_id     TEXT NOT NULL,
    status      TEXT NOT NULL,
    message     TEXT NOT NULL DEFAULT '',
    run_trigger TEXT NOT NULL DEFAULT 'manual',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL,
    FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_page_logs_page ON page_logs(page_id, created_at);

-- Element run logs: one row per element attempted in a run
CREATE TABLE IF NOT EXISTS element_logs (
    id           TEXT PRIMARY KEY,
    page_log_id  TEXT NOT NULL,
    element_id   TEXT NOT NULL,
    status       TEXT NOT NULL,
    message      TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,
    FOREIGN KEY (page_log_id) REFERENCES page_logs(id) ON DELETE CASCADE,
    FOREIGN KEY (element_id) REFERENCES elements(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_element_logs_log ON element_logs(page_log_id);
CREATE INDEX IF NOT EXISTS idx_element_logs_element ON element_logs(element_id, created_at);
`
