package models

import "time"

// Table names in the backing store.
const (
	TableRequests        = "requests"
	TableClients         = "clients"
	TableCars            = "cars"
	TableCarMakes        = "car_makes"
	TableCarModels       = "car_models"
	TableBrokers         = "brokers"
	TableEmployees       = "employees"
	TableInspectionTypes = "inspection_types"
	TableExpenses        = "expenses"
	TableRevenues        = "revenues"
	TableReservations    = "reservations"
)

// Request statuses. WaitingPayment is a pre-status: the request is visible
// but gated until it is activated and a payment type is assigned.
const (
	RequestStatusWaitingPayment = "waiting_payment"
	RequestStatusNew            = "new"
	RequestStatusInProgress     = "in_progress"
	RequestStatusComplete       = "complete"
)

// Payment classifications. Split keeps cash and card portions side by side.
const (
	PaymentTypeCash     = "cash"
	PaymentTypeCard     = "card"
	PaymentTypeTransfer = "transfer"
	PaymentTypeSplit    = "split"
	PaymentTypeUnpaid   = "unpaid"
)

// Entity is anything the cache can hold, keyed by a stable id. Revision is
// the logical timestamp used for last-write-wins merging; lookup entities
// without one return the zero time, which always yields to the incoming row.
type Entity interface {
	EntityID() string
	Revision() time.Time
}

// CarSnapshot is the denormalized make/model/year captured on a request at
// creation time. It is intentionally allowed to diverge from the live Car.
type CarSnapshot struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Year  int    `json:"year"`
}

// ActivityEntry is one line of a request's append-only activity log.
type ActivityEntry struct {
	At         time.Time `json:"at"`
	EmployeeID string    `json:"employee_id,omitempty"`
	Note       string    `json:"note"`
}

// Request is an inspection request, the primary feed entity.
type Request struct {
	ID               string          `db:"id" json:"id"`
	Number           int64           `db:"number" json:"number"`
	ClientID         string          `db:"client_id" json:"client_id"`
	CarID            string          `db:"car_id" json:"car_id"`
	Car              CarSnapshot     `db:"car" json:"car"`
	InspectionTypeID string          `db:"inspection_type_id" json:"inspection_type_id"`
	PaymentType      string          `db:"payment_type" json:"payment_type"`
	SplitCash        int64           `db:"split_cash" json:"split_cash,omitempty"`
	SplitCard        int64           `db:"split_card" json:"split_card,omitempty"`
	Price            int64           `db:"price" json:"price"`
	Status           string          `db:"status" json:"status"`
	EmployeeID       string          `db:"employee_id" json:"employee_id"`
	BrokerID         string          `db:"broker_id" json:"broker_id,omitempty"`
	BrokerCommission int64           `db:"broker_commission" json:"broker_commission,omitempty"`
	Activity         []ActivityEntry `db:"activity" json:"activity,omitempty"`
	ReportStamps     map[string]bool `db:"report_stamps" json:"report_stamps,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

func (r Request) EntityID() string    { return r.ID }
func (r Request) Revision() time.Time { return r.UpdatedAt }

// Client is a workshop customer. Phone is a business key but uniqueness is
// not enforced here.
type Client struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone"`
	VIP       bool      `db:"vip" json:"vip"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (c Client) EntityID() string    { return c.ID }
func (c Client) Revision() time.Time { return c.UpdatedAt }

// Car carries either plate components or a VIN, never both.
type Car struct {
	ID           string    `db:"id" json:"id"`
	MakeID       string    `db:"make_id" json:"make_id"`
	ModelID      string    `db:"model_id" json:"model_id"`
	Year         int       `db:"year" json:"year"`
	PlateNumber  string    `db:"plate_number" json:"plate_number,omitempty"`
	PlateLetters string    `db:"plate_letters" json:"plate_letters,omitempty"`
	VIN          string    `db:"vin" json:"vin,omitempty"`
	PlateLocal   string    `db:"plate_local" json:"plate_local,omitempty"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (c Car) EntityID() string    { return c.ID }
func (c Car) Revision() time.Time { return c.UpdatedAt }

// CarMake is a lookup record with localized names.
type CarMake struct {
	ID     string `db:"id" json:"id"`
	Name   string `db:"name" json:"name"`
	NameAr string `db:"name_ar" json:"name_ar,omitempty"`
}

func (m CarMake) EntityID() string    { return m.ID }
func (m CarMake) Revision() time.Time { return time.Time{} }

// CarModel belongs to a make; models are lazily paged per make.
type CarModel struct {
	ID     string `db:"id" json:"id"`
	MakeID string `db:"make_id" json:"make_id"`
	Name   string `db:"name" json:"name"`
	NameAr string `db:"name_ar" json:"name_ar,omitempty"`
}

func (m CarModel) EntityID() string    { return m.ID }
func (m CarModel) Revision() time.Time { return time.Time{} }

// Broker refers requests for a commission.
type Broker struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (b Broker) EntityID() string    { return b.ID }
func (b Broker) Revision() time.Time { return b.UpdatedAt }

// Employee owns requests.
type Employee struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Role      string    `db:"role" json:"role,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (e Employee) EntityID() string    { return e.ID }
func (e Employee) Revision() time.Time { return e.UpdatedAt }

// InspectionType is a priced service offering.
type InspectionType struct {
	ID    string `db:"id" json:"id"`
	Name  string `db:"name" json:"name"`
	Price int64  `db:"price" json:"price"`
}

func (t InspectionType) EntityID() string    { return t.ID }
func (t InspectionType) Revision() time.Time { return time.Time{} }

// Expense is a financial outflow line.
type Expense struct {
	ID        string    `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	Amount    int64     `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (e Expense) EntityID() string    { return e.ID }
func (e Expense) Revision() time.Time { return e.UpdatedAt }

// Revenue is a financial inflow line outside of requests.
type Revenue struct {
	ID        string    `db:"id" json:"id"`
	Label     string    `db:"label" json:"label"`
	Amount    int64     `db:"amount" json:"amount"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (r Revenue) EntityID() string    { return r.ID }
func (r Revenue) Revision() time.Time { return r.UpdatedAt }

// Reservation is a booked future inspection slot.
type Reservation struct {
	ID        string    `db:"id" json:"id"`
	ClientID  string    `db:"client_id" json:"client_id"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	At        time.Time `db:"at" json:"at"`
	Note      string    `db:"note" json:"note,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (r Reservation) EntityID() string    { return r.ID }
func (r Reservation) Revision() time.Time { return r.UpdatedAt }
