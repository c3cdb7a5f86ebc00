package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dicta/log"
	"dicta/retry"
	"dicta/session"
	"dicta/store"
)

const helpText = `commands:
  start [mode]   begin a recording session (default mode from -mode)
  prompt <text>  send a text prompt, no audio
  stop           stop recording and deliver
  cancel         discard the active recording
  queue          list queued items
  retry          retry every queued item
  retry <id>     retry one item, bypassing backoff
  delete <id>    drop a queued item and its audio
  stats [all]    usage stats (default: today)
  history        delivered sessions, most recent first
  forget <id>    delete one history entry
  clear-history  delete all delivered history
  clear-context  forget the prompt conversation
  quit           exit`

func commandLoop(ctrl *session.Controller, sched *retry.Scheduler, st *store.Store, defaultMode session.Mode) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "start":
			mode := defaultMode
			if rest != "" {
				m, err := session.ParseMode(rest)
				if err != nil {
					fmt.Println(err)
					continue
				}
				mode = m
			}
			if mode == session.ModeTextPrompt {
				fmt.Println("use: prompt <text>")
				continue
			}
			if err := ctrl.Start(mode); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("recording (%s) — 'stop' to finish, 'cancel' to discard\n", mode)

		case "prompt":
			if rest == "" {
				fmt.Println("use: prompt <text>")
				continue
			}
			if err := ctrl.StartPrompt(rest); err != nil {
				fmt.Println(err)
			}

		case "stop":
			if err := ctrl.Stop(); err != nil {
				fmt.Println(err)
			}

		case "cancel":
			if err := ctrl.Cancel(); err != nil {
				fmt.Println(err)
			} else {
				fmt.Println("discarded")
			}

		case "queue":
			printQueue(st)

		case "retry":
			if rest == "" {
				go func() {
					if err := sched.RetryAll(context.Background()); err != nil {
						fmt.Println(err)
					}
				}()
				continue
			}
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				fmt.Println("use: retry [id]")
				continue
			}
			go func() {
				if err := sched.RetrySingle(context.Background(), id); err != nil {
					fmt.Println(err)
				}
			}()

		case "delete":
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				fmt.Println("use: delete <id>")
				continue
			}
			if err := st.RemoveQueueItem(id); err != nil {
				fmt.Println(err)
				continue
			}
			count, _ := st.QueueCount()
			log.QueueEvent("deleted", id, count)
			fmt.Printf("deleted, %d queued\n", count)

		case "stats":
			printStats(st, rest)

		case "history":
			printHistory(st)

		case "forget":
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				fmt.Println("use: forget <id>")
				continue
			}
			if err := st.DeleteHistory(id); err != nil {
				fmt.Println(err)
			}

		case "clear-history":
			if err := st.ClearHistory(); err != nil {
				fmt.Println(err)
			} else {
				fmt.Println("history cleared")
			}

		case "clear-context":
			if err := st.ClearConversation(); err != nil {
				fmt.Println(err)
			} else {
				fmt.Println("conversation context cleared")
			}

		case "help":
			fmt.Println(helpText)

		case "quit", "exit":
			return

		default:
			fmt.Printf("unknown command %q, 'help' lists commands\n", cmd)
		}
	}
}

func printQueue(st *store.Store) {
	items, err := st.Queue()
	if err != nil {
		fmt.Println(err)
		return
	}
	if len(items) == 0 {
		fmt.Println("queue empty")
		return
	}
	for _, item := range items {
		age := time.Since(time.UnixMilli(item.CreatedAt)).Round(time.Second)
		payload := "audio"
		if item.AudioPath == "" {
			payload = "prompt"
		}
		fmt.Printf("#%d  %-18s %-6s retries=%d  age=%s\n",
			item.ID, item.Mode, payload, item.RetryCount, age)
	}
	fmt.Printf("%d/%d slots used\n", len(items), store.MaxQueueItems)
}

func printStats(st *store.Store, window string) {
	var fromTs int64
	switch window {
	case "", "today":
		now := time.Now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		fromTs = midnight.UnixMilli()
	case "all":
		fromTs = 0
	default:
		fmt.Println("use: stats [all|today]")
		return
	}
	snap, err := st.Stats(fromTs, time.Now().UnixMilli())
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("transcriptions: %d\n", snap.TotalTranscriptions)
	fmt.Printf("words:          %d\n", snap.TotalWords)
	fmt.Printf("audio:          %s\n", (time.Duration(snap.TotalDurationMs) * time.Millisecond).Round(time.Second))
	fmt.Printf("est. cost:      $%.4f\n", float64(snap.TotalCostCents)/10000)
}

func printHistory(st *store.Store) {
	recs, err := st.History()
	if err != nil {
		fmt.Println(err)
		return
	}
	if len(recs) == 0 {
		fmt.Println("no delivered sessions yet")
		return
	}
	for _, rec := range recs {
		ts := time.UnixMilli(rec.Timestamp).Format("2006-01-02 15:04")
		text := rec.Text
		if len(text) > 60 {
			text = text[:57] + "..."
		}
		fmt.Printf("#%d  %s  %-18s %3dw  %s\n", rec.ID, ts, rec.Mode, rec.WordCount, text)
	}
}
