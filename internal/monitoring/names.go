package monitoring

// Metric names. Tags never carry PHI: only operation names, cache names,
// outcomes and key versions.
const (
	MetricFieldEncrypt   = "fisioflow_field_encrypt_total"
	MetricFieldDecrypt   = "fisioflow_field_decrypt_total"
	MetricCryptoDuration = "fisioflow_crypto_duration_seconds"

	MetricCacheHits       = "fisioflow_note_cache_hits_total"
	MetricCacheMisses     = "fisioflow_note_cache_misses_total"
	MetricCacheEntries    = "fisioflow_note_cache_entries"
	MetricCacheEvicted    = "fisioflow_note_cache_evictions_total"
	MetricCacheStaleFills = "fisioflow_note_cache_stale_fills_total"
	MetricCacheClears     = "fisioflow_phi_cache_clears_total"
	MetricCacheFailures   = "fisioflow_phi_cache_clear_failures_total"

	MetricRecordsSkipped = "fisioflow_records_skipped_total"
	MetricKeyOperations  = "fisioflow_key_operations_total"
	MetricKMSRetries     = "fisioflow_kms_retries_total"

	MetricHTTPRequests = "fisioflow_http_requests_total"
	MetricHTTPDuration = "fisioflow_http_request_duration_seconds"
)
