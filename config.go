// Copyright (c) 2024 The powsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"lukechampine.com/uint128"

	"github.com/powsuite/pow-miner/miner"
	"github.com/powsuite/pow-miner/utils"
)

const (
	defaultConfigFilename = "pow-miner.conf"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "pow-miner.log"
	sampleConfigFilename  = "sample-pow-miner.conf"
	defaultLogLevel       = "info"
	defaultBackend        = "auto"
	defaultDifficulty     = "1000000"
)

var (
	defaultHomeDir = utils.AppDataDir("pow-miner", false)
	defaultLogDir  = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// config defines the configuration options for the miner.
//
// See loadConfig for details on the configuration load process.
type config struct {
	AppDataDir  *utils.ExplicitString `short:"A" long:"appdata" description:"Application data directory for miner config and logs"`
	Backend     string                `short:"b" long:"backend" description:"Mining backend to use {auto, cpu, opencl}"`
	BatchSize   uint64                `long:"batchsize" description:"Nonces per batch in batched CPU mode"`
	Batched     bool                  `long:"batched" description:"Use batched round-robin nonce assignment on the CPU backend"`
	Benchmark   bool                  `long:"benchmark" description:"Run the difficulty-ladder benchmark and exit"`
	BlockNumber uint64                `long:"blocknumber" description:"Block number bound to the search round"`
	Challenge   string                `long:"challenge" description:"Round challenge as a 64-character hex string (32 bytes)"`
	ConfigFile  string                `short:"C" long:"configfile" description:"Path to configuration file"`
	DebugLevel  string                `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Device      int                   `long:"device" description:"Accelerator device index"`
	Difficulty  string                `long:"difficulty" description:"Difficulty as a decimal integer; the search target is the maximum hash value divided by it"`
	GlobalSize  uint64                `long:"globalsize" description:"Device lanes per accelerator kernel launch"`
	ListDevices bool                  `long:"listdevices" description:"Print the available accelerator devices and exit"`
	LogDir      string                `long:"logdir" description:"Directory to log output."`
	MaxNonce    string                `long:"maxnonce" description:"Bound the nonce search to [0, maxnonce) -- empty searches the full 128-bit space"`
	MinerID     string                `long:"minerid" description:"Miner identity as a 64-character hex string (32 bytes)"`
	NoJobCache  bool                  `long:"nojobcache" description:"Disable the solved-job cache"`
	NumWorkers  int                   `long:"numworkers" description:"Number of CPU search workers -- 0 selects the physical core count"`
	ProfilePort string                `long:"profileport" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
	ShowVersion bool                  `short:"V" long:"version" description:"Display version information and exit"`
	StatsListen string                `long:"statslisten" description:"Enable the hashrate stats server on the given interface/port"`

	// Parsed forms of the fields above, populated by loadConfig.
	challenge  [32]byte
	minerID    [32]byte
	difficulty uint128.Uint128
	maxNonce   uint128.Uint128
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfg, options)
	return parser
}

// createDefaultConfigFile copies the file sample-pow-miner.conf to the given
// destination path.
func createDefaultConfigFile(destinationPath string) error {
	// Create the destination directory if it does not exists
	err := os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}

	// We assume sample config file path is same as binary
	path, err := filepath.Abs(filepath.Dir(os.Args[0]))
	if err != nil {
		return err
	}
	sampleConfigPath := filepath.Join(path, sampleConfigFilename)

	src, err := os.Open(sampleConfigPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dest, err := os.OpenFile(destinationPath,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	reader := bufio.NewReader(src)
	for err != io.EOF {
		var line string
		line, err = reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}

		if _, err := dest.WriteString(line); err != nil {
			return err
		}
	}

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	sort.Strings(subsystems)
	return subsystems
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// validBackend returns whether or not name selects a usable backend policy.
func validBackend(name string) bool {
	if name == "" || name == "auto" {
		return true
	}
	for _, registered := range miner.Backends() {
		if name == registered {
			return true
		}
	}
	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// loadConfig initializes and parses the config using a config file and
// command line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in the miner functioning properly without any config
// settings while still allowing the user to override settings with config
// files and command line options.  Command line options always take
// precedence.
func loadConfig() (*config, []string, error) {
	cfg := config{
		AppDataDir: utils.NewExplicitString(defaultHomeDir),
		Backend:    defaultBackend,
		BatchSize:  miner.DefaultBatchSize,
		ConfigFile: filepath.Join(defaultHomeDir, defaultConfigFilename),
		DebugLevel: defaultLogLevel,
		Difficulty: defaultDifficulty,
		LogDir:     defaultLogDir,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// An explicitly specified app data directory relocates the default
	// config file and log directory with it.
	configFileSpecified := preCfg.ConfigFile != cfg.ConfigFile
	if preCfg.AppDataDir.ExplicitlySet() {
		appData := cleanAndExpandPath(preCfg.AppDataDir.Value)
		if !configFileSpecified {
			preCfg.ConfigFile = filepath.Join(appData, defaultConfigFilename)
		}
		cfg.LogDir = filepath.Join(appData, defaultLogDirname)
	}

	// Create a default config file when none exists at the default
	// location.  A missing explicitly-specified config file is an error.
	if !fileExists(preCfg.ConfigFile) {
		if configFileSpecified {
			return nil, nil, fmt.Errorf("cannot find config file %v",
				preCfg.ConfigFile)
		}
		if err := createDefaultConfigFile(preCfg.ConfigFile); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot create default config "+
				"file: %v\n", err)
		}
	}

	// Load additional config from file.
	parser := newConfigParser(&cfg, flags.Default)
	if fileExists(preCfg.ConfigFile) {
		err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			if _, ok := err.(*os.PathError); !ok {
				fmt.Fprintf(os.Stderr, "Error parsing config "+
					"file: %v\n", err)
				fmt.Fprintln(os.Stderr, usageMessage)
				return nil, nil, err
			}
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	// Create the home directory if it doesn't already exist.
	funcName := "loadConfig"
	err = os.MkdirAll(defaultHomeDir, 0700)
	if err != nil {
		// Show a nicer error message if it's because a symlink is
		// linked to a directory that does not exist (probably because
		// it's not mounted).
		if e, ok := err.(*os.PathError); ok && os.IsExist(err) {
			if link, lerr := os.Readlink(e.Path); lerr == nil {
				str := "is symlink %s -> %s mounted?"
				err = fmt.Errorf(str, e.Path, link)
			}
		}

		str := "%s: Failed to create home directory: %v"
		err := fmt.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}

	// Expand the log directory
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Show version at startup.
	mainLog.Infof("Version %s", version())

	// Validate the backend selection.
	if !validBackend(cfg.Backend) {
		str := "%s: The specified backend [%v] is invalid -- supported " +
			"backends %v"
		err := fmt.Errorf(str, funcName, cfg.Backend,
			append([]string{"auto"}, miner.Backends()...))
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.NumWorkers < 0 {
		str := "%s: The number of workers can not be negative -- parsed [%v]"
		err := fmt.Errorf(str, funcName, cfg.NumWorkers)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	if cfg.Device < 0 {
		str := "%s: The device index can not be negative -- parsed [%v]"
		err := fmt.Errorf(str, funcName, cfg.Device)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Parse the challenge and miner identity; both must decode to exactly
	// 32 bytes.  Empty values select all zeros, which is only sensible for
	// benchmarking.
	if cfg.Challenge != "" {
		cfg.challenge, err = utils.ParseHex32(cfg.Challenge)
		if err != nil {
			str := "%s: Invalid challenge: %v"
			err := fmt.Errorf(str, funcName, err)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}
	if cfg.MinerID != "" {
		cfg.minerID, err = utils.ParseHex32(cfg.MinerID)
		if err != nil {
			str := "%s: Invalid miner identity: %v"
			err := fmt.Errorf(str, funcName, err)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	// Parse and validate the difficulty.
	cfg.difficulty, err = utils.ParseUint128(cfg.Difficulty)
	if err == nil && cfg.difficulty.IsZero() {
		err = fmt.Errorf("difficulty can not be zero")
	}
	if err != nil {
		str := "%s: Invalid difficulty: %v"
		err := fmt.Errorf(str, funcName, err)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Parse the nonce bound.  Empty searches the full 128-bit space.
	cfg.maxNonce = uint128.Max
	if cfg.MaxNonce != "" {
		cfg.maxNonce, err = utils.ParseUint128(cfg.MaxNonce)
		if err == nil && cfg.maxNonce.IsZero() {
			err = fmt.Errorf("maxnonce can not be zero")
		}
		if err != nil {
			str := "%s: Invalid maxnonce: %v"
			err := fmt.Errorf(str, funcName, err)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	// Validate profile port number
	if cfg.ProfilePort != "" {
		profilePort, err := strconv.Atoi(cfg.ProfilePort)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			str := "%s: The profile port must be between 1024 and 65535"
			err := fmt.Errorf(str, funcName)
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	return &cfg, remainingArgs, nil
}
