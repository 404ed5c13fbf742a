package fakeprovider

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/telekom/acctl/pkg/account"
)

// Org is a platform organization.
type Org struct {
	ID        int64  `json:"org_id"`
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	ParentID  int64  `json:"-"`
	Active    bool   `json:"active"`
	Region    string `json:"region,omitempty"`
}

// Person is a platform user.
type Person struct {
	GUID      string `json:"guid"`
	Email     string `json:"email"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Phone     string `json:"phone"`
}

// Member is a user's membership in an org.
type Member struct {
	GUID    string
	Roles   []string
	Primary bool
}

// Role is a platform role.
type Role struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
	Org     bool   `json:"org,omitempty"`
	Team    bool   `json:"team,omitempty"`
}

// Environment is an org deployment environment.
type Environment struct {
	Name         string `json:"name"`
	IsProduction bool   `json:"isProduction"`
}

// Event is an org activity entry.
type Event struct {
	OrgID   int64     `json:"org_id"`
	Event   string    `json:"event"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// UsageSample is one metered value on one day.
type UsageSample struct {
	OrgID int64
	Day   time.Time
	Key   string
	Value float64
}

var usageMeta = []struct {
	Key, Name, Unit string
	Quota           float64
}{
	{"apiRateMonth", "API Calls", "Calls", 5000},
	{"pushRateMonth", "Push Notifications", "Calls", 2000},
	{"storageFilesGB", "File Storage", "GB", 100},
	{"storageDatabaseGB", "Database Storage", "GB", 100},
	{"containerPoints", "Container Points", "Points", 1000},
	{"eventRateMonth", "Analytics Events", "Events", 10000000},
}

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func (p *Provider) seed() {
	p.orgs = []*Org{
		{ID: 100, GUID: "1000", Name: "Foo org", Active: true, Region: "US"},
		{ID: 200, GUID: "2000", Name: "Bar org", Active: true, Region: "US", ParentID: 100},
	}
	p.people = map[string]*Person{
		"50000": {GUID: "50000", Email: "test1@domain.com", FirstName: "Test1", LastName: "Tester1", Phone: "555-5001"},
		"50001": {GUID: "50001", Email: "test2@domain.com", FirstName: "Test2", LastName: "Tester2", Phone: "555-5002"},
		"50002": {GUID: "50002", Email: "test3@domain.com", FirstName: "Test3", LastName: "Tester3", Phone: "555-5003"},
	}
	p.nextUser = 50003
	p.members = map[int64][]*Member{
		100: {
			{GUID: "50000", Roles: []string{"administrator"}, Primary: true},
			{GUID: "50001", Roles: []string{"developer"}, Primary: true},
		},
		200: {
			{GUID: "50000", Roles: []string{"administrator"}, Primary: true},
		},
	}
	p.roles = []Role{
		{ID: "administrator", Name: "Administrator", Default: true, Org: true, Team: true},
		{ID: "developer", Name: "Developer", Default: true, Org: true, Team: true},
		{ID: "some_admin", Name: "Some Admin", Org: true},
	}
	p.envs = []Environment{{Name: "production", IsProduction: true}, {Name: "development"}}
	p.events = []Event{
		{OrgID: 100, Event: "org.create", Message: "Created org", TS: day("2021-02-04").Add(10 * time.Hour)},
		{OrgID: 100, Event: "org.user.add", Message: "Added user", TS: day("2021-02-12").Add(9 * time.Hour)},
		{OrgID: 100, Event: "org.user.remove", Message: "Removed user", TS: day("2021-02-15").Add(13 * time.Hour)},
	}
	p.usage = []UsageSample{
		{OrgID: 100, Day: day("2021-02-05"), Key: "apiRateMonth", Value: 784},
		{OrgID: 100, Day: day("2021-02-05"), Key: "pushRateMonth", Value: 167},
		{OrgID: 100, Day: day("2021-02-05"), Key: "containerPoints", Value: 906},
		{OrgID: 100, Day: day("2021-02-12"), Key: "apiRateMonth", Value: 510},
		{OrgID: 100, Day: day("2021-02-12"), Key: "storageFilesGB", Value: 0.0013},
	}
}

type envelope struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func ok(c *gin.Context, result any) {
	c.JSON(http.StatusOK, envelope{Success: true, Result: result})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: msg, Code: status})
}

const grantKey = "fakeprovider.grant"

func (p *Provider) requireBearer(c *gin.Context) {
	g, valid := p.lookupBearer(c)
	if !valid {
		fail(c, http.StatusUnauthorized, "Invalid or expired access token")
		return
	}
	c.Set(grantKey, g)
	c.Next()
}

func grantOf(c *gin.Context) grant {
	g, _ := c.Get(grantKey)
	return g.(grant)
}

func (p *Provider) orgByParam(c *gin.Context) (*Org, bool) {
	id, err := strconv.ParseInt(c.Param("org_id"), 10, 64)
	if err == nil {
		for _, o := range p.orgs {
			if o.ID == id {
				return o, true
			}
		}
	}
	fail(c, http.StatusNotFound, "Org not found")
	return nil, false
}

func (p *Provider) orgJSON(o *Org) gin.H {
	out := gin.H{"org_id": o.ID, "guid": o.GUID, "name": o.Name, "active": o.Active, "region": o.Region}
	if o.ParentID != 0 {
		for _, parent := range p.orgs {
			if parent.ID == o.ParentID {
				out["parent_org_guid"] = parent.GUID
			}
		}
	}
	return out
}

func (p *Provider) handleFindSession(c *gin.Context) {
	g := grantOf(c)
	p.mu.Lock()
	defer p.mu.Unlock()
	currentID := p.currentOrgLocked(g.subject)
	var orgs []gin.H
	var current gin.H
	for _, o := range p.orgs {
		entry := p.orgJSON(o)
		entry["default"] = o.ID == p.orgs[0].ID
		orgs = append(orgs, entry)
		if o.ID == currentID {
			current = entry
		}
	}
	session := gin.H{"org": current, "orgs": orgs}
	if g.kind == account.KindService {
		session["client"] = gin.H{"client_id": g.clientID, "guid": "svc-" + g.clientID, "name": g.clientID}
	} else {
		session["user"] = gin.H{"guid": "50000", "email": g.email, "firstname": "Foo", "lastname": "Bar"}
	}
	ok(c, session)
}

func (p *Provider) handleSwitchOrg(c *gin.Context) {
	g := grantOf(c)
	var body struct {
		OrgID int64 `json:"org_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "org_id required")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.orgs {
		if o.ID == body.OrgID {
			p.current[g.subject] = o.ID
			ok(c, p.orgJSON(o))
			return
		}
	}
	fail(c, http.StatusForbidden, "Not a member of the requested org")
}

func (p *Provider) handleEnvironments(c *gin.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok(c, p.envs)
}

func (p *Provider) handleGetOrg(c *gin.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, found := p.orgByParam(c); found {
		ok(c, p.orgJSON(o))
	}
}

func (p *Provider) handleRenameOrg(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		fail(c, http.StatusBadRequest, "name required")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, found := p.orgByParam(c); found {
		o.Name = body.Name
		ok(c, p.orgJSON(o))
	}
}

func (p *Provider) handleFamily(c *gin.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, found := p.orgByParam(c)
	if !found {
		return
	}
	family := p.orgJSON(o)
	children := []gin.H{}
	for _, child := range p.orgs {
		if child.ParentID == o.ID {
			children = append(children, p.orgJSON(child))
		}
	}
	family["children"] = children
	ok(c, family)
}

func parseRange(c *gin.Context) (from, to time.Time, valid bool) {
	from, err1 := time.Parse("2006-01-02", c.Query("from"))
	to, err2 := time.Parse("2006-01-02", c.Query("to"))
	if err1 != nil || err2 != nil {
		fail(c, http.StatusBadRequest, "from and to are required")
		return time.Time{}, time.Time{}, false
	}
	return from, to.Add(24*time.Hour - time.Nanosecond), true
}

func (p *Provider) handleActivity(c *gin.Context) {
	from, to, valid := parseRange(c)
	if !valid {
		return
	}
	orgID, _ := strconv.ParseInt(c.Query("org_id"), 10, 64)
	p.mu.Lock()
	defer p.mu.Unlock()
	events := []Event{}
	for _, e := range p.events {
		if e.OrgID == orgID && !e.TS.Before(from) && !e.TS.After(to) {
			events = append(events, e)
		}
	}
	ok(c, events)
}

func (p *Provider) handleUsage(c *gin.Context) {
	from, to, valid := parseRange(c)
	if !valid {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, found := p.orgByParam(c)
	if !found {
		return
	}
	totals := map[string]float64{}
	for _, s := range p.usage {
		if s.OrgID == o.ID && !s.Day.Before(from) && !s.Day.After(to) {
			totals[s.Key] += s.Value
		}
	}
	saas := gin.H{}
	for _, m := range usageMeta {
		saas[m.Key] = gin.H{"name": m.Name, "quota": m.Quota, "value": totals[m.Key], "unit": m.Unit}
	}
	ok(c, gin.H{
		"from":  from.Format(time.RFC3339),
		"to":    to.Format(time.RFC3339),
		"usage": gin.H{"SaaS": saas},
	})
}

func (p *Provider) userJSON(m *Member) gin.H {
	person := p.people[m.GUID]
	return gin.H{
		"guid":      person.GUID,
		"email":     person.Email,
		"firstname": person.FirstName,
		"lastname":  person.LastName,
		"phone":     person.Phone,
		"roles":     m.Roles,
		"primary":   m.Primary,
	}
}

func (p *Provider) handleListUsers(c *gin.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, found := p.orgByParam(c)
	if !found {
		return
	}
	users := []gin.H{}
	for _, m := range p.members[o.ID] {
		users = append(users, p.userJSON(m))
	}
	ok(c, users)
}

func (p *Provider) handleAddUser(c *gin.Context) {
	var body struct {
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Email == "" {
		fail(c, http.StatusBadRequest, "email required")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, found := p.orgByParam(c)
	if !found {
		return
	}
	var person *Person
	for _, candidate := range p.people {
		if strings.EqualFold(candidate.Email, body.Email) {
			person = candidate
		}
	}
	if person == nil {
		person = &Person{GUID: strconv.Itoa(p.nextUser), Email: body.Email}
		p.nextUser++
		p.people[person.GUID] = person
	}
	if slices.ContainsFunc(p.members[o.ID], func(m *Member) bool { return m.GUID == person.GUID }) {
		fail(c, http.StatusBadRequest, "User is already a member of this org.")
		return
	}
	m := &Member{GUID: person.GUID, Roles: body.Roles, Primary: true}
	p.members[o.ID] = append(p.members[o.ID], m)
	ok(c, gin.H{"guid": person.GUID})
}

func (p *Provider) member(c *gin.Context, orgID int64) (*Member, bool) {
	for _, m := range p.members[orgID] {
		if m.GUID == c.Param("user_guid") {
			return m, true
		}
	}
	fail(c, http.StatusNotFound, "User not found")
	return nil, false
}

func (p *Provider) handleUpdateUser(c *gin.Context) {
	var body struct {
		Roles []string `json:"roles"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Roles) == 0 {
		fail(c, http.StatusBadRequest, "roles required")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	o, found := p.orgByParam(c)
	if !found {
		return
	}
	if m, found := p.member(c, o.ID); found {
		m.Roles = body.Roles
		ok(c, p.userJSON(m))
	}
}

func (p *Provider) handleRemoveUser(c *gin.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, found := p.orgByParam(c)
	if !found {
		return
	}
	if m, found := p.member(c, o.ID); found {
		p.members[o.ID] = slices.DeleteFunc(p.members[o.ID], func(x *Member) bool { return x == m })
		ok(c, gin.H{})
	}
}

func (p *Provider) handleRoles(c *gin.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rolesDown {
		fail(c, http.StatusInternalServerError, "role service unavailable")
		return
	}
	team := c.Query("team") == "true"
	roles := []Role{}
	for _, r := range p.roles {
		if team && !r.Team {
			continue
		}
		roles = append(roles, r)
	}
	ok(c, roles)
}

// FailRoles makes the role endpoint answer 500.
func (p *Provider) FailRoles() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rolesDown = true
}
