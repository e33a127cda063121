package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Entry records one order status transition or notable event.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	OrderID   string    `json:"order_id,omitempty"`
	OldState  string    `json:"old_state,omitempty"`
	NewState  string    `json:"new_state,omitempty"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Request   string    `json:"request,omitempty"`
	Response  string    `json:"response,omitempty"`
	Message   string    `json:"message"`
}

type PoolConfig struct {
	BatchSize   int
	Timeout     time.Duration
	ChannelSize int
}

type Processor interface {
	Process(batch []Entry) error
}

// DBProcessor writes batches into the audit_logs table.
type DBProcessor struct {
	db *sql.DB
}

func NewDBProcessor(db *sql.DB) *DBProcessor {
	return &DBProcessor{db: db}
}

func (p *DBProcessor) Process(batch []Entry) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO audit_logs (timestamp, order_id, old_state, new_state, endpoint, request, response, message) VALUES `)

	params := []interface{}{}
	paramIndex := 1
	for i, rec := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)", paramIndex, paramIndex+1, paramIndex+2, paramIndex+3, paramIndex+4, paramIndex+5, paramIndex+6, paramIndex+7))
		paramIndex += 8
		params = append(params, rec.Timestamp, rec.OrderID, rec.OldState, rec.NewState, rec.Endpoint, rec.Request, rec.Response, rec.Message)
	}
	if _, err := p.db.Exec(sb.String(), params...); err != nil {
		return fmt.Errorf("audit db insert: %w", err)
	}
	return nil
}

// StdoutProcessor mirrors entries to stdout, optionally filtered by a
// substring match on the message.
type StdoutProcessor struct {
	Filter string
}

func (p *StdoutProcessor) Process(batch []Entry) error {
	for _, rec := range batch {
		if p.Filter != "" &&
			!strings.Contains(strings.ToLower(rec.Message), strings.ToLower(p.Filter)) {
			continue
		}
		fmt.Printf("AUDIT: %s | Order: %s | %s -> %s | Msg: %s\n",
			rec.Timestamp.Format(time.RFC3339), rec.OrderID, rec.OldState, rec.NewState, rec.Message)
	}
	return nil
}

// TaskCreator is the slice of the outbox repository the audit pool needs.
type TaskCreator interface {
	CreateTask(ctx context.Context, eventData []byte) error
}

// OutboxProcessor turns each entry into an outbox task so the broker
// publisher picks it up later.
type OutboxProcessor struct {
	tasks TaskCreator
}

func NewOutboxProcessor(tasks TaskCreator) *OutboxProcessor {
	return &OutboxProcessor{tasks: tasks}
}

func (p *OutboxProcessor) Process(batch []Entry) error {
	for _, rec := range batch {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit entry: %w", err)
		}
		if err := p.tasks.CreateTask(context.Background(), data); err != nil {
			return fmt.Errorf("create outbox task: %w", err)
		}
	}
	return nil
}

// WorkerPool batches entries and hands full or timed-out batches to every
// configured processor.
type WorkerPool struct {
	inputCh    chan Entry
	processors []Processor
	batchSize  int
	timeout    time.Duration

	wg sync.WaitGroup
}

func NewWorkerPool(cfg PoolConfig, processors ...Processor) *WorkerPool {
	return &WorkerPool{
		inputCh:    make(chan Entry, cfg.ChannelSize),
		processors: processors,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.Timeout,
	}
}

func (p *WorkerPool) Start(ctx context.Context, numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.worker(ctx)
		}()
	}
}

func (p *WorkerPool) worker(ctx context.Context) {
	var batch []Entry
	timer := time.NewTimer(p.timeout)
	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				p.processBatch(batch)
			}
			return
		case rec := <-p.inputCh:
			batch = append(batch, rec)
			if len(batch) >= p.batchSize {
				if !timer.Stop() {
					<-timer.C
				}
				p.processBatch(batch)
				batch = nil
				timer.Reset(p.timeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				p.processBatch(batch)
				batch = nil
			}
			timer.Reset(p.timeout)
		}
	}
}

func (p *WorkerPool) processBatch(batch []Entry) {
	for _, proc := range p.processors {
		if err := proc.Process(batch); err != nil {
			log.Printf("Error processing audit batch: %v", err)
		}
	}
}

// Log enqueues an entry without blocking the caller; entries are dropped
// when the channel is full rather than stalling order flow.
func (p *WorkerPool) Log(record Entry) {
	select {
	case p.inputCh <- record:
	default:
		log.Println("Audit log channel full, dropping entry")
	}
}

func (p *WorkerPool) Shutdown(cancelFunc context.CancelFunc) {
	cancelFunc()
	p.wg.Wait()
}
