package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/flowmaster/internal/cycle"
	"github.com/t77yq/flowmaster/internal/events"
	"github.com/t77yq/flowmaster/internal/master"
	"github.com/t77yq/flowmaster/internal/model"
	"github.com/t77yq/flowmaster/internal/monitor"
	"github.com/t77yq/flowmaster/internal/processor"
	"github.com/t77yq/flowmaster/internal/store"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.SetDefault("master.poll_interval", 10*time.Second)
	viper.SetDefault("master.heartbeat_interval", 30*time.Second)
	viper.SetDefault("storage.path", "flowmaster.db")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.DrainTimeout(30 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	// Create JetStream context
	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Create event publisher
	publisher, err := events.NewPublisher(js, logger)
	if err != nil {
		logger.Fatal("Failed to create event publisher", zap.Error(err))
	}

	// Create persistent store
	db, err := store.NewSQLiteStore(logger, viper.GetString("storage.path"))
	if err != nil {
		logger.Fatal("Failed to create store", zap.Error(err))
	}
	defer db.Close()

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	// Start poller and heartbeat collector
	poller := master.NewPoller(viper.GetDuration("master.poll_interval"), logger)
	if err := poller.Start(ctx); err != nil {
		logger.Fatal("Failed to start poller", zap.Error(err))
	}

	collector := monitor.NewCollector(publisher,
		viper.GetDuration("master.heartbeat_interval"),
		poller.ActiveCount, logger)
	collector.Start(ctx)

	deps := processor.Deps{
		Tasks:        db,
		Processes:    db,
		Dependencies: db,
		Metadata:     db,
		Notifier:     publisher,
		Logger:       logger,
	}

	if err := submitExampleTasks(ctx, db, poller, deps, logger); err != nil {
		logger.Error("Failed to submit example tasks", zap.Error(err))
	}

	// Wait for shutdown signal
	<-ctx.Done()

	collector.Stop()
	poller.Stop()
	logger.Info("Server shutting down gracefully")
}

// submitExampleTasks seeds demo metadata and submits one dependent and one
// blocking task so a fresh install has something to observe
func submitExampleTasks(ctx context.Context, db *store.SQLiteStore, poller *master.Poller, deps processor.Deps, logger *zap.Logger) error {
	project := &model.Project{Code: 1, Name: "demo"}
	upstream := &model.WorkflowDefinition{Code: 100, Name: "nightly-etl", Version: 1, ProjectCode: 1}
	downstream := &model.WorkflowDefinition{Code: 200, Name: "nightly-report", Version: 1, ProjectCode: 1}
	extract := &model.TaskDefinition{Code: 101, Name: "extract", WorkflowCode: 100}

	if err := db.SaveProject(ctx, project); err != nil {
		return err
	}
	for _, w := range []*model.WorkflowDefinition{upstream, downstream} {
		if err := db.SaveWorkflow(ctx, w); err != nil {
			return err
		}
	}
	if err := db.SaveTaskDefinition(ctx, extract); err != nil {
		return err
	}

	process := &model.ProcessInstance{
		ID:              uuid.New().String(),
		WorkflowCode:    downstream.Code,
		WorkflowVersion: downstream.Version,
		ProjectCode:     project.Code,
		Name:            "nightly-report-run",
		State:           model.StatusRunning,
		StartTime:       time.Now(),
	}
	if err := db.SaveProcessInstance(ctx, process); err != nil {
		return err
	}

	dependency := &model.DependentParameters{
		Relation: model.RelationAnd,
		Models: []model.DependentTaskModel{{
			Relation: model.RelationAnd,
			Items: []model.DependentItem{{
				ProjectCode:    project.Code,
				WorkflowCode:   upstream.Code,
				TaskCode:       extract.Code,
				Cycle:          cycle.Day,
				ExpectedStatus: model.StatusSuccess,
			}},
		}},
	}

	tasks := []*model.TaskInstance{
		{
			ID:                uuid.New().String(),
			Code:              201,
			Name:              "wait-for-etl",
			TaskType:          model.TaskTypeDependent,
			ProcessInstanceID: process.ID,
			Timeout:           2 * time.Hour,
			TimeoutStrategy:   model.TimeoutWarn,
			Dependency:        dependency,
		},
		{
			ID:                uuid.New().String(),
			Code:              202,
			Name:              "gate-on-etl",
			TaskType:          model.TaskTypeBlocking,
			ProcessInstanceID: process.ID,
			Dependency:        dependency,
			Blocking: &model.BlockingParameters{
				Opportunity:       model.BlockingOnFailed,
				AlertWhenBlocking: true,
			},
		},
	}

	for _, task := range tasks {
		proc, err := processor.New(task, process, deps)
		if err != nil {
			return err
		}
		if err := proc.Submit(ctx); err != nil {
			logger.Error("Failed to submit task",
				zap.String("task_name", task.Name),
				zap.Error(err))
			continue
		}
		if proc.Dispatch() {
			poller.Track(task, proc)
		} else if err := proc.Run(ctx); err != nil {
			logger.Error("Task evaluation failed",
				zap.String("task_name", task.Name),
				zap.Error(err))
		}
	}
	return nil
}
