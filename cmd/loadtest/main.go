// Command loadtest drives concurrent voice sessions against the gateway and
// reports latency percentiles.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type options struct {
	gateway       string
	concurrency   int
	duration      time.Duration
	wavPath       string
	reference     string
	sampleRate    int
	chunkMs       int
	speechFrames  int
	silenceFrames int
	timeout       time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.gateway, "gateway", "ws://localhost:8000/ws/session", "gateway websocket URL")
	flag.IntVar(&o.concurrency, "concurrency", 10, "number of concurrent callers")
	flag.DurationVar(&o.duration, "duration", 30*time.Second, "test duration")
	flag.StringVar(&o.wavPath, "wav", "", "WAV file to stream instead of a synthetic tone")
	flag.StringVar(&o.reference, "reference", "", "reference transcript used to score WER of each final")
	flag.IntVar(&o.sampleRate, "sample-rate", 16000, "session sample rate")
	flag.IntVar(&o.chunkMs, "chunk-ms", 320, "frame duration")
	flag.IntVar(&o.speechFrames, "speech-frames", 8, "tone frames per call when no WAV is given")
	flag.IntVar(&o.silenceFrames, "silence-frames", 5, "silence frames appended after the speech")
	flag.DurationVar(&o.timeout, "timeout", 30*time.Second, "per call timeout waiting for tts/stop")
	flag.Parse()

	speech := sineFrames(o.speechFrames, o.sampleRate, o.chunkMs)
	if o.wavPath != "" {
		samples, err := loadWAV(o.wavPath, o.sampleRate)
		if err != nil {
			slog.Error("load wav", "error", err)
			os.Exit(1)
		}
		speech = chunk(samples, o.sampleRate, o.chunkMs)
	}
	silence := make([]byte, o.sampleRate*o.chunkMs/1000*2)
	frames := append(speech, repeat(silence, o.silenceFrames)...)
	speechFrames := len(speech)

	fmt.Printf("Load test: %d concurrent calls for %s\n", o.concurrency, o.duration)
	fmt.Printf("Gateway: %s | frames per call: %d x %dms\n\n", o.gateway, len(frames), o.chunkMs)

	var mu sync.Mutex
	var results []callResult
	var wg sync.WaitGroup
	deadline := time.Now().Add(o.duration)

	for range o.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) {
				r := runCall(o, frames, speechFrames)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	printSummary(results, o.reference != "")
}

func repeat(frame []byte, n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame
	}
	return out
}

type callResult struct {
	success      bool
	finalMs      float64
	agentMs      float64
	firstAudioMs float64
	wer          float64
	interrupted  bool
	err          string
}

type event struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Text  string `json:"text"`
	Error struct {
		Stage string `json:"stage"`
		Code  string `json:"code"`
	} `json:"error"`
}

// runCall streams frames in real time on one goroutine while the caller
// reads events. Latencies are measured from the end of the speech frames.
func runCall(o options, frames [][]byte, speechFrames int) callResult {
	conn, _, err := websocket.DefaultDialer.Dial(o.gateway, nil)
	if err != nil {
		return callResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	speechEnd := make(chan time.Time, 1)
	go func() {
		interval := time.Duration(o.chunkMs) * time.Millisecond
		for i, f := range frames {
			if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
				return
			}
			if i == speechFrames-1 {
				speechEnd <- time.Now()
			}
			time.Sleep(interval)
		}
	}()

	var res callResult
	var endOfAudio time.Time
	since := func() float64 {
		if endOfAudio.IsZero() {
			return 0
		}
		return float64(time.Since(endOfAudio).Milliseconds())
	}

	conn.SetReadDeadline(time.Now().Add(o.timeout + time.Duration(len(frames)*o.chunkMs)*time.Millisecond))
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			res.err = fmt.Sprintf("read: %v", err)
			return res
		}
		select {
		case endOfAudio = <-speechEnd:
		default:
		}

		if msgType == websocket.BinaryMessage {
			if res.firstAudioMs == 0 {
				res.firstAudioMs = since()
			}
			continue
		}

		var ev event
		if err = json.Unmarshal(data, &ev); err != nil {
			continue
		}
		switch ev.Type + "/" + ev.State {
		case "stt/final":
			res.finalMs = since()
			if o.reference != "" {
				res.wer = wordErrorRate(o.reference, ev.Text)
			}
		case "agent/response":
			res.agentMs = since()
		case "interrupt/stop":
			res.interrupted = true
		case "tts/stop":
			res.success = true
			return res
		case "stt/error":
			res.err = ev.Error.Stage + "/" + ev.Error.Code
			return res
		}
	}
}

func printSummary(results []callResult, withWER bool) {
	var succeeded, failed, interrupted int
	var finalAll, agentAll, audioAll, werAll []float64
	errs := map[string]int{}

	for _, r := range results {
		if r.interrupted {
			interrupted++
		}
		if !r.success {
			failed++
			errs[r.err]++
			continue
		}
		succeeded++
		finalAll = append(finalAll, r.finalMs)
		agentAll = append(agentAll, r.agentMs)
		audioAll = append(audioAll, r.firstAudioMs)
		werAll = append(werAll, r.wer)
	}

	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Calls completed:   %d\n", succeeded)
	fmt.Printf("Calls failed:      %d\n", failed)
	fmt.Printf("Calls interrupted: %d\n", interrupted)
	for msg, n := range errs {
		fmt.Printf("  %4d x %s\n", n, msg)
	}

	if len(finalAll) == 0 {
		fmt.Println("No successful calls to report metrics")
		return
	}

	fmt.Printf("\n%-12s %8s %8s %8s\n", "Latency", "p50", "p95", "p99")
	row := func(name string, data []float64) {
		fmt.Printf("%-12s %6.0fms %6.0fms %6.0fms\n", name, percentile(data, 50), percentile(data, 95), percentile(data, 99))
	}
	row("final", finalAll)
	row("agent", agentAll)
	row("first audio", audioAll)

	if withWER {
		var sum float64
		for _, w := range werAll {
			sum += w
		}
		fmt.Printf("\nMean WER: %.3f\n", sum/float64(len(werAll)))
	}
}

// percentile is nearest-rank over a sorted copy of data.
func percentile(data []float64, pct float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(pct/100*float64(len(sorted)))) - 1
	return sorted[min(max(idx, 0), len(sorted)-1)]
}
