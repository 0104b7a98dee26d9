package sqlite

const schema = `
-- Raw NCPDP transactions awaiting ingestion
CREATE TABLE IF NOT EXISTS raw_ncpdp_claims (
    id TEXT PRIMARY KEY,
    payer_id TEXT NOT NULL DEFAULT '',
    pharmacy_id TEXT NOT NULL DEFAULT '',
    transaction_id TEXT NOT NULL DEFAULT '',
    raw_content TEXT NOT NULL,
    transaction_type TEXT NOT NULL DEFAULT '',
    service_date DATETIME,
    patient_id TEXT NOT NULL DEFAULT '',
    prescription_number TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'PENDING'
        CHECK (status IN ('PENDING','PROCESSING','PROCESSED','FAILED')),
    created_date DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    processing_started_date DATETIME,
    processed_date DATETIME,
    claim_id TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    retry_count INTEGER NOT NULL DEFAULT 0,
    -- PROCESSED rows must carry their claim linkage
    CHECK (status != 'PROCESSED' OR (claim_id != '' AND processed_date IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_raw_pending
    ON raw_ncpdp_claims(status, created_date) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS idx_raw_processing
    ON raw_ncpdp_claims(status, processing_started_date) WHERE status = 'PROCESSING';

-- Audit trail of raw claim status transitions
CREATE TABLE IF NOT EXISTS ncpdp_processing_log (
    id TEXT PRIMARY KEY,
    raw_claim_id TEXT NOT NULL,
    from_status TEXT NOT NULL DEFAULT '',
    to_status TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_ncpdp_log_raw ON ncpdp_processing_log(raw_claim_id);

-- Canonical claims
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    payer_id TEXT NOT NULL,
    payee_id TEXT NOT NULL,
    claim_number TEXT NOT NULL DEFAULT '',
    patient_id TEXT NOT NULL DEFAULT '',
    patient_name TEXT NOT NULL DEFAULT '',
    bin_number TEXT NOT NULL DEFAULT '',
    pcn_number TEXT NOT NULL DEFAULT '',
    service_date DATETIME NOT NULL,
    total_charge_amount TEXT NOT NULL DEFAULT '0',
    paid_amount TEXT NOT NULL DEFAULT '0',
    patient_responsibility_amount TEXT NOT NULL DEFAULT '0',
    adjustment_amount TEXT NOT NULL DEFAULT '0',
    status TEXT NOT NULL DEFAULT 'PENDING'
        CHECK (status IN ('PROCESSED','PAID','DENIED','ADJUSTED','PENDING')),
    status_reason TEXT NOT NULL DEFAULT '',
    service_lines TEXT NOT NULL DEFAULT '[]',
    adjustments TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_claims_payer_payee ON claims(payer_id, payee_id);

-- Bucketing configuration
CREATE TABLE IF NOT EXISTS bucketing_rules (
    id TEXT PRIMARY KEY,
    rule_name TEXT NOT NULL,
    rule_type TEXT NOT NULL CHECK (rule_type IN ('PAYER_PAYEE','BIN_PCN','CUSTOM')),
    priority INTEGER NOT NULL DEFAULT 0,
    grouping_expression TEXT NOT NULL DEFAULT '',
    linked_payer_id TEXT NOT NULL DEFAULT '',
    linked_payee_id TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS generation_thresholds (
    id TEXT PRIMARY KEY,
    threshold_name TEXT NOT NULL,
    threshold_type TEXT NOT NULL CHECK (threshold_type IN ('CLAIM_COUNT','AMOUNT','TIME','HYBRID')),
    max_claims INTEGER,
    max_amount TEXT,
    time_duration TEXT NOT NULL DEFAULT ''
        CHECK (time_duration IN ('','DAILY','WEEKLY','BIWEEKLY','MONTHLY')),
    generation_schedule TEXT NOT NULL DEFAULT '',
    linked_bucketing_rule_id TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_thresholds_rule ON generation_thresholds(linked_bucketing_rule_id);

CREATE TABLE IF NOT EXISTS commit_criteria (
    id TEXT PRIMARY KEY,
    commit_mode TEXT NOT NULL CHECK (commit_mode IN ('AUTO','MANUAL','HYBRID')),
    auto_commit_threshold INTEGER,
    manual_approval_threshold INTEGER,
    approval_required_roles TEXT NOT NULL DEFAULT '[]',
    override_permissions TEXT NOT NULL DEFAULT '[]',
    linked_bucketing_rule_id TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS check_payment_workflow_configs (
    id TEXT PRIMARY KEY,
    workflow_mode TEXT NOT NULL CHECK (workflow_mode IN ('NONE','SEPARATE','COMBINED')),
    assignment_mode TEXT NOT NULL CHECK (assignment_mode IN ('MANUAL','AUTO','BOTH')),
    require_acknowledgment INTEGER NOT NULL DEFAULT 0,
    linked_threshold_id TEXT NOT NULL
);

-- Buckets
CREATE TABLE IF NOT EXISTS buckets (
    bucket_id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'ACCUMULATING'
        CHECK (status IN ('ACCUMULATING','PENDING_APPROVAL','GENERATING','COMPLETED','FAILED','MISSING_CONFIGURATION')),
    bucketing_rule_id TEXT NOT NULL,
    payer_id TEXT NOT NULL,
    payee_id TEXT NOT NULL,
    bin_number TEXT NOT NULL DEFAULT '',
    pcn_number TEXT NOT NULL DEFAULT '',
    claim_count INTEGER NOT NULL DEFAULT 0,
    total_amount TEXT NOT NULL DEFAULT '0',
    rejection_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    awaiting_approval_since DATETIME,
    approved_at DATETIME,
    approved_by TEXT NOT NULL DEFAULT '',
    generation_started_at DATETIME,
    generation_completed_at DATETIME
);

-- At most one ACCUMULATING bucket per identity tuple
CREATE UNIQUE INDEX IF NOT EXISTS idx_buckets_open_identity
    ON buckets(bucketing_rule_id, payer_id, payee_id, bin_number, pcn_number)
    WHERE status = 'ACCUMULATING';
CREATE INDEX IF NOT EXISTS idx_buckets_pending_approval
    ON buckets(status) WHERE status = 'PENDING_APPROVAL';
CREATE INDEX IF NOT EXISTS idx_buckets_status ON buckets(status);

CREATE TABLE IF NOT EXISTS bucket_approval_log (
    id TEXT PRIMARY KEY,
    bucket_id TEXT NOT NULL,
    action TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    comments TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_approval_log_bucket ON bucket_approval_log(bucket_id);

-- Claim-to-bucket linkage; claim_id uniqueness is the aggregator's
-- idempotence key
CREATE TABLE IF NOT EXISTS claim_processing_log (
    id TEXT PRIMARY KEY,
    claim_id TEXT NOT NULL UNIQUE,
    bucket_id TEXT NOT NULL,
    paid_amount TEXT NOT NULL DEFAULT '0',
    rejected INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_claim_log_bucket ON claim_processing_log(bucket_id);

-- Generated artifacts and their delivery state
CREATE TABLE IF NOT EXISTS file_generation_history (
    file_id TEXT PRIMARY KEY,
    bucket_id TEXT NOT NULL,
    file_name TEXT NOT NULL,
    file_path TEXT NOT NULL DEFAULT '',
    file_size_bytes INTEGER NOT NULL DEFAULT 0,
    claim_count INTEGER NOT NULL DEFAULT 0,
    total_amount TEXT NOT NULL DEFAULT '0',
    generated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    delivery_status TEXT NOT NULL DEFAULT 'PENDING'
        CHECK (delivery_status IN ('PENDING','DELIVERED','FAILED','RETRY')),
    delivered_at DATETIME,
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_history_deliverable
    ON file_generation_history(delivery_status) WHERE delivery_status IN ('PENDING','RETRY');

-- Payer / payee configuration
CREATE TABLE IF NOT EXISTS payers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    sftp_host TEXT NOT NULL DEFAULT '',
    sftp_port INTEGER NOT NULL DEFAULT 22,
    sftp_username TEXT NOT NULL DEFAULT '',
    sftp_password_enc TEXT NOT NULL DEFAULT '',
    sftp_remote_path TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS payees (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    npi TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS payment_methods (
    id TEXT PRIMARY KEY,
    payer_id TEXT NOT NULL,
    method_type TEXT NOT NULL DEFAULT 'CHECK',
    detail TEXT NOT NULL DEFAULT ''
);

-- File naming
CREATE TABLE IF NOT EXISTS file_naming_templates (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    template TEXT NOT NULL,
    payer_id TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS file_naming_sequence (
    template_id TEXT NOT NULL,
    payer_id TEXT NOT NULL DEFAULT '',
    day TEXT NOT NULL,
    next_seq INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (template_id, payer_id, day)
);

-- Check payments
CREATE TABLE IF NOT EXISTS check_reservations (
    id TEXT PRIMARY KEY,
    payer_id TEXT NOT NULL,
    check_number_start TEXT NOT NULL,
    check_number_end TEXT NOT NULL,
    total_checks INTEGER NOT NULL,
    checks_used INTEGER NOT NULL DEFAULT 0,
    bank_name TEXT NOT NULL DEFAULT '',
    routing_number TEXT NOT NULL DEFAULT '',
    account_last4 TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'ACTIVE'
        CHECK (status IN ('ACTIVE','EXHAUSTED','CANCELLED')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (checks_used <= total_checks)
);

CREATE INDEX IF NOT EXISTS idx_reservations_payer_active
    ON check_reservations(payer_id, created_at) WHERE status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS check_payments (
    id TEXT PRIMARY KEY,
    bucket_id TEXT NOT NULL,
    check_number TEXT NOT NULL,
    check_amount TEXT NOT NULL DEFAULT '0',
    check_date DATETIME NOT NULL,
    bank_name TEXT NOT NULL DEFAULT '',
    routing_number TEXT NOT NULL DEFAULT '',
    account_last4 TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'RESERVED'
        CHECK (status IN ('RESERVED','ASSIGNED','ACKNOWLEDGED','ISSUED','VOID','CANCELLED')),
    reservation_id TEXT NOT NULL DEFAULT '',
    issued_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_checks_bucket ON check_payments(bucket_id);
CREATE INDEX IF NOT EXISTS idx_checks_number ON check_payments(check_number);

CREATE TABLE IF NOT EXISTS check_audit_log (
    id TEXT PRIMARY KEY,
    check_id TEXT NOT NULL,
    action TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_check_audit_check ON check_audit_log(check_id);

-- Change feed
CREATE TABLE IF NOT EXISTS feed_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    next_seq INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS feed_versions (
    version INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS data_changes (
    change_id TEXT PRIMARY KEY,
    feed_version INTEGER NOT NULL,
    sequence_number INTEGER NOT NULL,
    table_name TEXT NOT NULL,
    operation TEXT NOT NULL CHECK (operation IN ('INSERT','UPDATE','DELETE')),
    row_id TEXT NOT NULL,
    old_values TEXT,
    new_values TEXT,
    changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    processed INTEGER NOT NULL DEFAULT 0,
    processed_at DATETIME,
    error_message TEXT NOT NULL DEFAULT '',
    UNIQUE (feed_version, sequence_number)
);

CREATE INDEX IF NOT EXISTS idx_changes_order ON data_changes(feed_version, sequence_number);
CREATE INDEX IF NOT EXISTS idx_changes_unprocessed ON data_changes(processed, feed_version);

CREATE TABLE IF NOT EXISTS changefeed_checkpoint (
    consumer_id TEXT PRIMARY KEY,
    feed_version INTEGER NOT NULL DEFAULT 0,
    sequence_number INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Change-feed triggers. Sequence numbers come from the single-row
-- feed_state counter (globally increasing, hence strictly increasing per
-- table); the feed version is the latest feed_versions row, inserted once
-- per processor run. Snapshots use json_object with a fixed key order so
-- handlers can hash them deterministically.
CREATE TRIGGER IF NOT EXISTS trg_raw_claims_insert AFTER INSERT ON raw_ncpdp_claims
BEGIN
    UPDATE feed_state SET next_seq = next_seq + 1 WHERE id = 1;
    INSERT INTO data_changes (change_id, feed_version, sequence_number, table_name, operation, row_id, old_values, new_values)
    VALUES (lower(hex(randomblob(16))),
            (SELECT COALESCE(MAX(version), 1) FROM feed_versions),
            (SELECT next_seq FROM feed_state WHERE id = 1),
            'raw_ncpdp_claims', 'INSERT', NEW.id,
            NULL,
            json_object('claim_id', NEW.claim_id, 'error_message', NEW.error_message,
                        'id', NEW.id, 'retry_count', NEW.retry_count, 'status', NEW.status));
END;

CREATE TRIGGER IF NOT EXISTS trg_raw_claims_update AFTER UPDATE ON raw_ncpdp_claims
BEGIN
    UPDATE feed_state SET next_seq = next_seq + 1 WHERE id = 1;
    INSERT INTO data_changes (change_id, feed_version, sequence_number, table_name, operation, row_id, old_values, new_values)
    VALUES (lower(hex(randomblob(16))),
            (SELECT COALESCE(MAX(version), 1) FROM feed_versions),
            (SELECT next_seq FROM feed_state WHERE id = 1),
            'raw_ncpdp_claims', 'UPDATE', NEW.id,
            json_object('claim_id', OLD.claim_id, 'error_message', OLD.error_message,
                        'id', OLD.id, 'retry_count', OLD.retry_count, 'status', OLD.status),
            json_object('claim_id', NEW.claim_id, 'error_message', NEW.error_message,
                        'id', NEW.id, 'retry_count', NEW.retry_count, 'status', NEW.status));
END;

CREATE TRIGGER IF NOT EXISTS trg_raw_claims_delete AFTER DELETE ON raw_ncpdp_claims
BEGIN
    UPDATE feed_state SET next_seq = next_seq + 1 WHERE id = 1;
    INSERT INTO data_changes (change_id, feed_version, sequence_number, table_name, operation, row_id, old_values, new_values)
    VALUES (lower(hex(randomblob(16))),
            (SELECT COALESCE(MAX(version), 1) FROM feed_versions),
            (SELECT next_seq FROM feed_state WHERE id = 1),
            'raw_ncpdp_claims', 'DELETE', OLD.id,
            json_object('claim_id', OLD.claim_id, 'error_message', OLD.error_message,
                        'id', OLD.id, 'retry_count', OLD.retry_count, 'status', OLD.status),
            NULL);
END;

CREATE TRIGGER IF NOT EXISTS trg_claims_insert AFTER INSERT ON claims
BEGIN
    UPDATE feed_state SET next_seq = next_seq + 1 WHERE id = 1;
    INSERT INTO data_changes (change_id, feed_version, sequence_number, table_name, operation, row_id, old_values, new_values)
    VALUES (lower(hex(randomblob(16))),
            (SELECT COALESCE(MAX(version), 1) FROM feed_versions),
            (SELECT next_seq FROM feed_state WHERE id = 1),
            'claims', 'INSERT', NEW.id,
            NULL,
            json_object('id', NEW.id, 'paid_amount', NEW.paid_amount,
                        'payee_id', NEW.payee_id, 'payer_id', NEW.payer_id, 'status', NEW.status));
END;

CREATE TRIGGER IF NOT EXISTS trg_buckets_insert AFTER INSERT ON buckets
BEGIN
    UPDATE feed_state SET next_seq = next_seq + 1 WHERE id = 1;
    INSERT INTO data_changes (change_id, feed_version, sequence_number, table_name, operation, row_id, old_values, new_values)
    VALUES (lower(hex(randomblob(16))),
            (SELECT COALESCE(MAX(version), 1) FROM feed_versions),
            (SELECT next_seq FROM feed_state WHERE id = 1),
            'buckets', 'INSERT', NEW.bucket_id,
            NULL,
            json_object('bucket_id', NEW.bucket_id, 'claim_count', NEW.claim_count,
                        'status', NEW.status, 'total_amount', NEW.total_amount));
END;

CREATE TRIGGER IF NOT EXISTS trg_buckets_update AFTER UPDATE ON buckets
BEGIN
    UPDATE feed_state SET next_seq = next_seq + 1 WHERE id = 1;
    INSERT INTO data_changes (change_id, feed_version, sequence_number, table_name, operation, row_id, old_values, new_values)
    VALUES (lower(hex(randomblob(16))),
            (SELECT COALESCE(MAX(version), 1) FROM feed_versions),
            (SELECT next_seq FROM feed_state WHERE id = 1),
            'buckets', 'UPDATE', NEW.bucket_id,
            json_object('bucket_id', OLD.bucket_id, 'claim_count', OLD.claim_count,
                        'status', OLD.status, 'total_amount', OLD.total_amount),
            json_object('bucket_id', NEW.bucket_id, 'claim_count', NEW.claim_count,
                        'status', NEW.status, 'total_amount', NEW.total_amount));
END;
`
