package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"dicta/assistant"
	"dicta/audio"
	"dicta/events"
	"dicta/log"
	"dicta/retry"
	"dicta/session"
	"dicta/shutdown"
	"dicta/store"
	"dicta/transcriber"
)

var version = "dev"

func main() {
	run()
}

func run() {
	dbFlag := flag.String("db", "", "database path (default: OS-specific location)")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	modeFlag := flag.String("mode", "whisper-transcribe", "default session mode: realtime-audio, whisper-transcribe, whisper-prompt, realtime-prompt, text-prompt")
	modelFlag := flag.String("model", "", "language model for prompt modes (persisted)")
	langFlag := flag.String("lang", "en", "language code for transcription (e.g., en, es, fr). Empty = auto-detect")
	deviceFlag := flag.String("device", "", "use named microphone device (persisted)")
	formatFlag := flag.String("format", "wav", "batch upload format: wav or flac")
	cleanupFlag := flag.Bool("cleanup", false, "pass transcripts through the language model for punctuation fixes")
	clipFlag := flag.Bool("clip", true, "deliver final text to the clipboard")
	devicesFlag := flag.Bool("devices", false, "list capture devices and exit")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("dicta %s\n", version)
		os.Exit(0)
	}

	switch *formatFlag {
	case "wav", "flac":
	default:
		fmt.Printf("Error: unknown format %q (use wav or flac)\n", *formatFlag)
		os.Exit(1)
	}

	defaultMode, err := session.ParseMode(*modeFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	if crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()

	if *devicesFlag {
		listDevices()
		return
	}

	dbPath := *dbFlag
	if dbPath == "" {
		dbPath, err = store.DefaultPath()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	// Flags override persisted settings; persisted settings fill in
	// unset flags.
	device := resolveSetting(st, "device", *deviceFlag)
	model := resolveSetting(st, "model", *modelFlag)

	asr, err := transcriber.New()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	asr.SetLanguage(*langFlag)

	llm, err := assistant.New()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	audioCtx, err := audio.NewContext()
	if err != nil {
		log.Errorf("audio context init error: %v", err)
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer audioCtx.Close()

	sink := events.Multi(&consoleSink{clip: *clipFlag}, &logSink{})

	ctrl := session.New(session.Config{
		Store:    st,
		ASR:      asr,
		LLM:      llm,
		Audio:    audioCtx,
		Events:   sink,
		AudioDir: filepath.Dir(dbPath),
		Device:   device,
		Model:    model,
		Language: *langFlag,
		Format:   *formatFlag,
		Cleanup:  *cleanupFlag,
	})
	sched := retry.New(retry.Config{
		Store:    st,
		ASR:      asr,
		LLM:      llm,
		Events:   sink,
		Format:   *formatFlag,
		Language: *langFlag,
	})

	sigCh := make(chan os.Signal, 1)
	shutdown.Notify(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down")
		ctrl.Cancel()
		log.Close()
		st.Close()
		audioCtx.Close()
		os.Exit(0)
	}()

	if count, err := st.QueueCount(); err == nil && count > 0 {
		fmt.Printf("%d queued item(s) waiting — type 'retry' to replay\n", count)
	}
	fmt.Printf("dicta %s — mode %s, type 'help' for commands\n", version, defaultMode)

	commandLoop(ctrl, sched, st, defaultMode)

	if recs, err := st.History(); err == nil {
		log.SessionEnd(len(recs))
	}
}

func resolveSetting(st *store.Store, key, flagValue string) string {
	if flagValue != "" {
		if err := st.SaveSetting(key, flagValue); err != nil {
			log.Warnf("persisting %s setting: %v", key, err)
		}
		return flagValue
	}
	value, err := st.Setting(key)
	if err != nil {
		log.Warnf("reading %s setting: %v", key, err)
	}
	return value
}

func listDevices() {
	audioCtx, err := audio.NewContext()
	if err != nil {
		fmt.Printf("Error initializing audio context: %v\n", err)
		os.Exit(1)
	}
	defer audioCtx.Close()
	devices, err := audioCtx.Devices()
	if err != nil {
		fmt.Printf("Error enumerating devices: %v\n", err)
		os.Exit(1)
	}
	for _, d := range devices {
		fmt.Println(d.Name)
	}
}
