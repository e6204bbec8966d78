package storage

// GetSetting reads a single key from kv_settings, returning ("", false) if
// unset. Nothing outside this package calls it; in particular no API route
// reads or writes web.auto_start or web.port here.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.Get(&value, "SELECT value FROM kv_settings WHERE key = ?", key)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return "", false, nil
		}
		return "", false, classifyExecErr(err)
	}
	return value, true, nil
}

// SetSetting upserts a single kv_settings key/value pair.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
INSERT INTO kv_settings (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value
`, key, value)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}

// DeleteSetting removes a kv_settings key, a no-op if it was never set.
func (s *Store) DeleteSetting(key string) error {
	_, err := s.db.Exec("DELETE FROM kv_settings WHERE key = ?", key)
	if err != nil {
		return classifyExecErr(err)
	}
	return nil
}
