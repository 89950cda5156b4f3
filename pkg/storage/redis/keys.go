package redis

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "later:"

// entryKey returns the hash key for a packed KV key: later:kv:{packed}
func (s *Store) entryKey(packed string) string { return s.prefix + "kv:" + packed }

// indexKey is the sorted set of packed keys, all scored 0 for lex ordering.
func (s *Store) indexKey() string { return s.prefix + "kv_index" }

// versionKey is the global versionstamp sequence.
func (s *Store) versionKey() string { return s.prefix + "version" }

// queueKey is the delayed-message sorted set scored by visible-at millis.
func (s *Store) queueKey() string { return s.prefix + "queue" }

// messagePrefix prefixes per-message hashes: later:msg:{id}
func (s *Store) messagePrefix() string { return s.prefix + "msg:" }

func (s *Store) messageKey(id string) string { return s.messagePrefix() + id }
