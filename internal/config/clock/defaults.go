package clock

import "time"

const (
	defaultType            = "system"
	defaultNTPServer       = "pool.ntp.org"
	defaultSyncInterval    = 5 * time.Minute
	defaultOffsetThreshold = 500 * time.Millisecond
	defaultQueryTimeout    = 3 * time.Second
)
