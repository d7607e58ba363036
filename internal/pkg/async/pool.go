// Package async runs named tasks on a bounded set of workers.
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task struct {
	Name    string
	Execute func(ctx context.Context) (any, error)
}

type Result struct {
	Name string
	Data any
	Err  error
}

type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range tasks {
		results <- run(ctx, task)
	}
}

// run turns a panicking task into a failed result.
func run(ctx context.Context, task Task) (res Result) {
	res.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			res.Data = nil
			res.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Data, res.Err = task.Execute(ctx)
	return res
}

// Execute runs every task and returns the results keyed by task name. Tasks
// not started before ctx is done report ctx.Err().
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	taskCh := make(chan Task)
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, taskCh, resultCh, &wg)
	}

	for _, task := range tasks {
		taskCh <- task
	}
	close(taskCh)

	wg.Wait()
	close(resultCh)

	results := make(map[string]Result, len(tasks))
	for result := range resultCh {
		results[result.Name] = result
	}
	return results
}
