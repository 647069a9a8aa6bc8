package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/config"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/logging"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/service"
	"go.uber.org/zap"
)

// Usage example on the command line:
// > DBHOST=localhost:3306 DBUSER=dirk DBPWD=bullo92 go run main.go -file=../../scripts/database.sql
// > DBDRIVER=postgres DBHOST=localhost:5432 go run main.go -file=../../scripts/database.postgres.sql
func main() {
	filePtr := flag.String("file", "database.sql", "the sql file to execute")
	configPtr := flag.String("config", "", "the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPtr)
	if err != nil {
		fmt.Println("could not load configuration", err)
		os.Exit(1)
	}
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Println("could not create logger", err)
		os.Exit(1)
	}
	defer logger.Sync()

	sqlDB, err := service.CreateDatabase(cfg.Database)
	if err != nil {
		logger.Fatal("could not open database", zap.Error(err))
	}
	db := sqlx.NewDb(sqlDB, cfg.Database.Driver)
	defer db.Close()

	readFile, err := os.Open(*filePtr)
	if err != nil {
		logger.Fatal("could not open sql file", zap.String("file", *filePtr), zap.Error(err))
	}
	defer readFile.Close()

	statements, err := splitStatements(readFile)
	if err != nil {
		logger.Fatal("could not read sql file", zap.String("file", *filePtr), zap.Error(err))
	}
	for _, statement := range statements {
		db.MustExec(statement)
	}
	logger.Info("executed sql file", zap.String("file", *filePtr), zap.Int("statements", len(statements)))
}

// splitStatements joins the lines of a SQL script into statements. A statement ends with the
// line that contains a semicolon.
func splitStatements(r io.Reader) ([]string, error) {
	var statements []string
	fileScanner := bufio.NewScanner(r)
	fileScanner.Split(bufio.ScanLines)
	builder := strings.Builder{}
	for fileScanner.Scan() {
		line := strings.TrimSpace(fileScanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		builder.WriteString(line)
		builder.WriteString(" ")
		if strings.Contains(line, ";") {
			statements = append(statements, strings.TrimSpace(builder.String()))
			builder = strings.Builder{}
		}
	}
	return statements, fileScanner.Err()
}
