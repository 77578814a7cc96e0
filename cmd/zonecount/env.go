package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// envFlags maps environment variables to the flags they default.
var envFlags = map[string]string{
	"ZONECOUNT_CONFIG": "config",
	"ZONECOUNT_LAYOUT": "layout",
	"ZONECOUNT_DB":     "db",
	"ZONECOUNT_LISTEN": "listen",
	"ZONECOUNT_INPUT":  "input",
}

// applyEnv sets every flag not given on the command line from the process
// environment, or failing that from the dotenv file at path. A missing file
// is not an error.
func applyEnv(fset *flag.FlagSet, path string) error {
	file := map[string]string{}
	if path != "" {
		m, err := godotenv.Read(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if m != nil {
			file = m
		}
	}

	given := map[string]bool{}
	fset.Visit(func(f *flag.Flag) { given[f.Name] = true })

	for key, name := range envFlags {
		if given[name] {
			continue
		}
		v, ok := os.LookupEnv(key)
		if !ok {
			v, ok = file[key]
		}
		if !ok {
			continue
		}
		if err := fset.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}
