package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jijae92/mactts/internal/audio"
	"github.com/jijae92/mactts/internal/script"
	"github.com/jijae92/mactts/internal/speakers"
)

// RenderParallel is Render with sentence synthesis fanned out across
// Options.Workers goroutines. Results are reassembled in script order;
// any sentence failure fails the whole render with its line number.
func (e *Engine) RenderParallel(ctx context.Context, elements []script.Element, spk speakers.Map, outPath string, progress Progress) (*Result, error) {
	spk, warnings, err := e.resolveSpeakers(elements, spk)
	if err != nil {
		return nil, err
	}

	tasks := sentenceTasks(elements)
	total := len(tasks)

	// Progress fires from this goroutine only; workers just report
	// completions over the channel.
	completions := make(chan sentenceTask, total)
	var reporterWG sync.WaitGroup
	reporterWG.Add(1)
	go func() {
		defer reporterWG.Done()
		done := 0
		for task := range completions {
			done++
			if progress != nil {
				progress(done, total, fmt.Sprintf("line %d: %s", task.line, truncate(task.text, 30)))
			}
		}
	}()
	if progress != nil {
		progress(0, total, "starting synthesis")
	}

	var (
		mu          sync.Mutex
		synthesized = make(map[taskKey]*audio.Segment, total)
		stats       Stats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			cfg := speakerConfig(spk, task.speaker, e.opts.DefaultSpeaker)

			var taskStats Stats
			seg, err := e.synthesizeSentence(gctx, task.text, cfg, &taskStats)

			mu.Lock()
			stats.CacheHits += taskStats.CacheHits
			stats.CacheMiss += taskStats.CacheMiss
			stats.Retries += taskStats.Retries
			stats.AudioBytes += taskStats.AudioBytes
			if err == nil {
				synthesized[task.key] = seg
			}
			mu.Unlock()

			if err != nil {
				return fmt.Errorf("line %d: %w", task.line, err)
			}
			completions <- task
			return nil
		})
	}
	err = g.Wait()
	close(completions)
	reporterWG.Wait()
	if err != nil {
		return nil, err
	}

	report := func(done int, msg string) {
		if progress != nil {
			progress(done, total, msg)
		}
	}
	return e.assemble(ctx, elements, spk, synthesized, outPath, stats, warnings, report)
}
