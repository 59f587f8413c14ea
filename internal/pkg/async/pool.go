// Package async runs work off the request path: a fan-out pool for
// concurrent reads and a keyed queue for ordered background writes.
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task struct {
	Name    string
	Execute func() (any, error)
}

type Result struct {
	Name string
	Data any
	Err  error
}

// Pool runs a batch of tasks on a fixed number of workers. A Pool may be reused.
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
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			results <- run(task)
		case <-ctx.Done():
			return
		}
	}
}

func run(task Task) (res Result) {
	res.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			res.Data = nil
			res.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	res.Data, res.Err = task.Execute()
	return res
}

// Execute runs tasks and returns their results keyed by name. If ctx ends first,
// the results collected so far are returned and missing tasks get ctx.Err().
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	var wg sync.WaitGroup
	results := make(map[string]Result, len(tasks))
	taskCh := make(chan Task)
	resultCh := make(chan Result, len(tasks))

	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, taskCh, resultCh, &wg)
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < len(tasks); i++ {
		select {
		case result := <-resultCh:
			results[result.Name] = result
		case <-ctx.Done():
			for _, task := range tasks {
				if _, ok := results[task.Name]; !ok {
					results[task.Name] = Result{Name: task.Name, Err: ctx.Err()}
				}
			}
			return results
		}
	}

	wg.Wait()
	return results
}
