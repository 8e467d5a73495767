package env

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// FileVar names an explicit dotenv file; it disables the upward search.
const FileVar = "WATCHTRACKER_ENV_FILE"

var (
	loadOnce sync.Once
	loadErr  error
)

// Ensure loads MYKI_* settings from a dotenv file once per process: the
// file named by WATCHTRACKER_ENV_FILE, else the nearest .env from the
// working directory upward. Test binaries skip it unless
// GOTEST_LOAD_DOTENV=1.
func Ensure() error {
	if isTestBinary() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	loadOnce.Do(func() {
		path, err := dotenvPath()
		if err != nil || path == "" {
			loadErr = err
			return
		}
		if loadErr = godotenv.Load(path); loadErr != nil {
			log.Warn().Err(loadErr).Str("dotenv", path).Msg("watchtracker: load .env failed")
			return
		}
		log.Debug().Str("dotenv", path).Msg("watchtracker: loaded .env")
	})
	return loadErr
}

func lookup(key string) (string, bool) {
	_ = Ensure()
	val := strings.TrimSpace(os.Getenv(key))
	return val, val != ""
}

// String returns the trimmed variable, or fallback when it is unset or blank.
func String(key, fallback string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return fallback
}

// Duration reads key with ParseDuration and logs before falling back on a
// bad value.
func Duration(key string, fallback time.Duration) time.Duration {
	val, ok := lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := ParseDuration(val)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Str("value", val).Msg("watchtracker: invalid duration, using fallback")
		return fallback
	}
	return parsed
}

const maxSeconds = math.MaxInt64 / int64(time.Second)

// ParseDuration accepts bare seconds ("300") the way MYKI_SCAN_INTERVAL
// has always been written, and Go duration strings ("5m").
func ParseDuration(val string) (time.Duration, error) {
	val = strings.TrimSpace(val)
	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, errors.Errorf("duration %q out of range", val)
		}
		return time.ParseDuration(val)
	}
	if secs > maxSeconds || secs < -maxSeconds {
		return 0, errors.Errorf("duration %q out of range", val)
	}
	return time.Duration(secs) * time.Second, nil
}

func Int(key string, fallback int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

var boolWords = map[string]bool{
	"1": true, "true": true, "yes": true, "on": true,
	"0": false, "false": false, "no": false, "off": false,
}

// Bool understands 1/0, true/false, yes/no and on/off in any case.
func Bool(key string, fallback bool) bool {
	if val, ok := lookup(key); ok {
		if b, known := boolWords[strings.ToLower(val)]; known {
			return b
		}
	}
	return fallback
}

func isTestBinary() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func dotenvPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv(FileVar)); explicit != "" {
		return explicit, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", errors.Wrap(err, "search .env")
	}
	for dir := wd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, ".env")
		info, err := os.Stat(candidate)
		switch {
		case err == nil && !info.IsDir():
			return candidate, nil
		case err != nil && !os.IsNotExist(err):
			return "", errors.Wrap(err, "search .env")
		}
		if filepath.Dir(dir) == dir {
			return "", nil
		}
	}
}
