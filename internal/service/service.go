package service

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/config"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/metadata"
	"gitlab.com/dirk.krummacker/listdata-contacts/internal/model"
	wire "gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// maxInt is the largest possible int value
const maxInt = int(^uint(0) >> 1)

// allowedDirections are the allowed sort directions of the '$orderby' URL parameter.
var allowedDirections = []string{"asc", "desc"}

// errNotFound is returned by the write helpers when no row matches the id.
var errNotFound = errors.New("contact not found")

// Service serves the contacts list over the legacy list-data protocol.
type Service struct {
	db         *sqlx.DB
	entityType *metadata.EntityType
	logger     *zap.Logger

	// columns is the comma separated column list of all mapped properties.
	columns string

	// selectWhereId is a prepared statement for selecting contacts with a given id.
	selectWhereId *sqlx.Stmt

	// deleteWhereId is a prepared statement for deleting a contact with a given id.
	deleteWhereId *sqlx.Stmt
}

// RouterOptions switches the optional middleware of the router.
type RouterOptions struct {
	// ServicePath is the prefix of all list-data routes, e.g. "/_vti_bin/listdata.svc".
	ServicePath string
	Logging     bool
	Metrics     bool
	Tracing     bool
}

// CreateDatabase opens a database handle for the configured driver, "mysql" or "postgres".
func CreateDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	var dsn string
	switch cfg.Driver {
	case "mysql":
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = cfg.Host
		mc.DBName = cfg.Name
		mc.ParseTime = true
		// Count matched rather than changed rows, so updating a value to itself is not a miss.
		mc.ClientFoundRows = true
		dsn = mc.FormatDSN()
	case "postgres":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     cfg.Host,
			Path:     "/" + cfg.Name,
			RawQuery: "sslmode=disable",
		}
		dsn = u.String()
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	return sql.Open(cfg.Driver, dsn)
}

// New wraps the database with sqlx and prepares all statements. The database argument can be a
// real database for production use or a mock database within unit tests.
func New(sqlDB *sql.DB, driver string, entityType *metadata.EntityType, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		db:         sqlx.NewDb(sqlDB, driver),
		entityType: entityType,
		logger:     logger,
	}
	var columns []string
	for _, p := range entityType.Properties() {
		if !p.IsUnmapped {
			columns = append(columns, p.Column)
		}
	}
	s.columns = strings.Join(columns, ", ")

	var err error
	s.selectWhereId, err = s.db.Preparex(s.db.Rebind(
		"SELECT " + s.columns + " FROM contacts WHERE id = ?"))
	if err != nil {
		return nil, fmt.Errorf("prepare select: %w", err)
	}
	s.deleteWhereId, err = s.db.Preparex(s.db.Rebind(
		"DELETE FROM contacts WHERE id = ?"))
	if err != nil {
		return nil, fmt.Errorf("prepare delete: %w", err)
	}
	return s, nil
}

// Close releases the prepared statements and the database.
func (s *Service) Close() error {
	s.selectWhereId.Close()
	s.deleteWhereId.Close()
	return s.db.Close()
}

// SetupHttpRouter initializes the REST API router and registers all endpoints.
func (s *Service) SetupHttpRouter(opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Logging {
		router.Use(s.requestLogger())
	} else {
		s.logger.Info("Turning off HTTP request logging.")
	}
	if opts.Tracing {
		router.Use(otelgin.Middleware("listdata-contacts"))
	}
	if opts.Metrics {
		ginprometheus.NewPrometheus("listdata").Use(router)
	}

	root := router.Group(opts.ServicePath)
	resource := "/" + s.entityType.DefaultResourceName()
	root.GET(resource, s.findContacts)
	root.POST(resource, s.createContact)
	root.GET(resource+"/:id", s.findContactByID)
	root.PUT(resource+"/:id", s.updateContactByID)
	root.DELETE(resource+"/:id", s.deleteContactByID)
	root.POST("/$batch", s.saveChanges)
	return router
}

// requestLogger logs one line per request.
func (s *Service) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetHeader("X-Request-ID")),
		)
	}
}

// findContacts responds with the contacts list wrapped as {"d": {"results": [...]}}. An empty
// list is a normal result.
//
// The URL parameter '$select' names the properties to return; the id is always returned.
//
// The URL parameters '$top' and '$skip' limit the number of results and skip the first ones of
// the sorted list. Together they implement paging.
//
// The URL parameter '$orderby' names a property, optionally followed by 'asc' or 'desc'. Without
// it, the contacts are sorted by id.
//
// REST API calls:
//
//	> curl "http://localhost:8080/_vti_bin/listdata.svc/Contacts"
//	> curl "http://localhost:8080/_vti_bin/listdata.svc/Contacts?\$select=firstName,lastName"
//	> curl "http://localhost:8080/_vti_bin/listdata.svc/Contacts?\$top=20&\$skip=60"
//	> curl "http://localhost:8080/_vti_bin/listdata.svc/Contacts?\$orderby=lastName%20desc"
func (s *Service) findContacts(c *gin.Context) {
	props, err := s.entityType.ParseSelect(c.Query("$select"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid $select parameter"})
		return
	}
	limit, offset, successTopAndSkip := parseTopAndSkip(c)
	if !successTopAndSkip {
		return
	}
	column, direction, successOrderby := s.parseOrderby(c)
	if !successOrderby {
		return
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM contacts
		ORDER BY %s %s
		LIMIT ?
		OFFSET ?`, s.columns, column, direction)
	var contacts []model.Contact
	if err := s.db.Select(&contacts, s.db.Rebind(query), limit, offset); err != nil {
		s.internalError(c, "select contacts", err)
		return
	}

	results := make([]gin.H, 0, len(contacts))
	for _, contact := range contacts {
		results = append(results, project(contact, props))
	}
	c.JSON(http.StatusOK, gin.H{"d": gin.H{"results": results}})
}

// parseTopAndSkip inspects the URL parameters and determines values for limit and offset of the
// result set.
func parseTopAndSkip(c *gin.Context) (limit int, offset int, success bool) {
	limit, offset = maxInt, 0
	if top := c.Query("$top"); top != "" {
		topAsInt, errConv := strconv.Atoi(top)
		if errConv != nil || topAsInt < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid $top parameter"})
			return 0, 0, false
		}
		limit = topAsInt
	}
	if skip := c.Query("$skip"); skip != "" {
		skipAsInt, errConv := strconv.Atoi(skip)
		if errConv != nil || skipAsInt < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid $skip parameter"})
			return 0, 0, false
		}
		offset = skipAsInt
	}
	return limit, offset, true
}

// parseOrderby inspects the '$orderby' URL parameter and determines the column and direction of
// the sort.
func (s *Service) parseOrderby(c *gin.Context) (column string, direction string, success bool) {
	orderby := strings.Fields(c.Query("$orderby"))
	if len(orderby) == 0 {
		return s.entityType.KeyProperty().Column, "ASC", true
	}
	prop, ok := s.entityType.Property(orderby[0])
	if !ok || prop.IsUnmapped || len(orderby) > 2 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid $orderby parameter"})
		return "", "", false
	}
	direction = "asc"
	if len(orderby) == 2 {
		direction = strings.ToLower(orderby[1])
	}
	if !contains(allowedDirections, direction) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid $orderby parameter"})
		return "", "", false
	}
	return prop.Column, strings.ToUpper(direction), true
}

// contains returns true if a string is present in a slice.
func contains(slice []string, str string) bool {
	for _, v := range slice {
		if v == str {
			return true
		}
	}
	return false
}

// project keeps only the selected properties of a contact.
func project(contact model.Contact, props []metadata.DataProperty) gin.H {
	w := contact.ToWire()
	h := make(gin.H, len(props))
	for _, p := range props {
		h[p.Name], _ = w.Value(p.Name)
	}
	return h
}

// createContact inserts the contact specified in the request's JSON into the database. It
// responds with the full contact including the newly assigned id.
//
// Example REST API call:
//
//	> curl http://localhost:8080/_vti_bin/listdata.svc/Contacts --request "POST" --include --header "Content-Type: application/json" --data '{"firstName": "Lewis", "lastName": "Hamilton", "emailAddress": "lewis.hamilton@mercedes.com"}'
func (s *Service) createContact(c *gin.Context) {
	var newContact wire.Contact
	if err := c.BindJSON(&newContact); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	if newContact.Id != 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "id is assigned by the service"})
		return
	}
	if err := s.entityType.Validate(newContact); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	id, err := s.insertContact(s.db, newContact)
	if err != nil {
		s.internalError(c, "insert contact", err)
		return
	}
	newContact.Id = id
	c.JSON(http.StatusCreated, wire.EntityEnvelope{D: newContact})
}

// findContactByID locates the contact whose ID value matches the id parameter of the request
// URL, then returns that contact as a response.
//
// Example REST API call:
//
//	> curl http://localhost:8080/_vti_bin/listdata.svc/Contacts/56
func (s *Service) findContactByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	props, err := s.entityType.ParseSelect(c.Query("$select"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid $select parameter"})
		return
	}
	var contacts []model.Contact
	if err := s.selectWhereId.Select(&contacts, id); err != nil {
		s.internalError(c, "select contact", err)
		return
	}
	if len(contacts) == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"d": project(contacts[0], props)})
}

// updateContactByID updates the values specified in the JSON (and only those) of the contact
// whose ID value matches the id parameter of the request URL, and responds with the new version
// of the contact.
//
// Example REST API call:
//
//	> curl http://localhost:8080/_vti_bin/listdata.svc/Contacts/56 --request "PUT" --include --header "Content-Type: application/json" --data '{"lastName": "NewName"}'
func (s *Service) updateContactByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var submitted wire.Contact
	if errBind := c.BindJSON(&submitted); errBind != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	changed := presentProperties(submitted)
	// It only makes sense to continue if we have at least one value to update.
	if len(changed) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "no values to be updated"})
		return
	}
	if err := s.entityType.ValidateProperties(submitted, changed...); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	err := s.updateContact(s.db, id, submitted)
	if errors.Is(err, errNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
		return
	}
	if err != nil {
		s.internalError(c, "update contact", err)
		return
	}

	// In the HTTP response, return the full contact after the update.
	var contacts []model.Contact
	if err := s.selectWhereId.Select(&contacts, id); err != nil {
		s.internalError(c, "select contact", err)
		return
	}
	if len(contacts) == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
		return
	}
	c.JSON(http.StatusOK, wire.EntityEnvelope{D: contacts[0].ToWire()})
}

// deleteContactByID deletes the contact whose ID value matches the id parameter of the request
// URL from the database.
//
// Example REST API call:
//
//	> curl http://localhost:8080/_vti_bin/listdata.svc/Contacts/56 --request "DELETE"
func (s *Service) deleteContactByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	result, err := s.deleteWhereId.Exec(id)
	if err != nil {
		s.internalError(c, "delete contact", err)
		return
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.internalError(c, "delete contact", err)
		return
	}
	if rowsAffected == 1 {
		c.JSON(http.StatusOK, gin.H{"message": "contact deleted"})
	} else {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
	}
}

// parseID reads the id URL parameter. An id that is not a number cannot exist, so the answer is
// NOT FOUND.
func parseID(c *gin.Context) (int64, bool) {
	id, errConv := strconv.ParseInt(c.Param("id"), 10, 64)
	if errConv != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "invalid id parameter"})
		return 0, false
	}
	return id, true
}

// presentProperties lists the properties that carry a value. Empty strings count as absent.
func presentProperties(c wire.Contact) []string {
	var names []string
	if c.FirstName != "" {
		names = append(names, "firstName")
	}
	if c.LastName != "" {
		names = append(names, "lastName")
	}
	if c.EmailAddress != "" {
		names = append(names, "emailAddress")
	}
	return names
}

// insertContact inserts a contact and returns the new id. PostgreSQL has no LastInsertId, so
// the id is read back with RETURNING there.
func (s *Service) insertContact(ext sqlx.Ext, contact wire.Contact) (int64, error) {
	row := model.FromWire(contact)
	query := "INSERT INTO contacts (firstname, title, email) VALUES (?, ?, ?)"
	if ext.DriverName() == "postgres" {
		var id int64
		err := ext.QueryRowx(ext.Rebind(query+" RETURNING id"), row.FirstName, row.Title, row.Email).Scan(&id)
		return id, err
	}
	result, err := ext.Exec(ext.Rebind(query), row.FirstName, row.Title, row.Email)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// updateContact sets the present properties of the contact. It returns errNotFound if no row has
// the id.
func (s *Service) updateContact(ext sqlx.Ext, id int64, contact wire.Contact) error {
	var sets []string
	var args []interface{}
	for _, name := range presentProperties(contact) {
		prop, _ := s.entityType.Property(name)
		value, _ := contact.Value(name)
		sets = append(sets, prop.Column+"=?")
		args = append(args, value)
	}
	args = append(args, id)
	query := "UPDATE contacts SET " + strings.Join(sets, ", ") + " WHERE id=?"
	result, err := ext.Exec(ext.Rebind(query), args...)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errNotFound
	}
	return nil
}

// deleteContact removes the contact. It returns errNotFound if no row has the id.
func (s *Service) deleteContact(ext sqlx.Ext, id int64) error {
	result, err := ext.Exec(ext.Rebind("DELETE FROM contacts WHERE id = ?"), id)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errNotFound
	}
	return nil
}

// internalError logs a database failure and answers with INTERNAL SERVER ERROR.
func (s *Service) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "database error"})
}
