package vectorstore

import "fmt"

// Open constructs the configured backend rooted at dir
func Open(backend, dir string) (Store, error) {
	switch backend {
	case "", "sqlite":
		return NewSQLiteStore(dir)
	case "chromem":
		return NewChromemStore(dir)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", backend)
	}
}
