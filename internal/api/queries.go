package api

// The two fixed GraphQL operations the portal backend exposes to drivers.
// The schema is consumed as-is; no other operations are issued.

const queryBootstrap = `
query bootstrap {
  getDriver {
    id
    firstName
    lastName
    email
    installationState
    chargepoints {
      id
      chargepointId
      isPublic
      evses {
        id
        evseId
        status
      }
    }
  }
}
`

const queryTransactions = `
query TransactionListPage($page: PageInput, $filter: FilterInput) {
  listTransactions(page: $page, filter: $filter) {
    totalCount
    page {
      page
      size
      sort
    }
    items {
      id
      type
      chargepointId
      visualNumber
      startDateTime
      endDateTime
      totalEnergy
      totalCost
      status
      errorCode
    }
  }
}
`

// Driver is the account owner with their registered chargepoints, in vendor
// order.
type Driver struct {
	ID                string        `json:"id"`
	FirstName         string        `json:"firstName"`
	LastName          string        `json:"lastName"`
	Email             string        `json:"email"`
	InstallationState string        `json:"installationState"`
	Chargepoints      []Chargepoint `json:"chargepoints"`
}

// Chargepoint is a physical charging unit registered to the account.
type Chargepoint struct {
	ID            string `json:"id"`
	ChargepointID string `json:"chargepointId"`
	IsPublic      bool   `json:"isPublic"`
	Evses         []Evse `json:"evses"`
}

// Evse is a single charge outlet on a chargepoint.
type Evse struct {
	ID     string `json:"id"`
	EvseID string `json:"evseId"`
	Status string `json:"status"`
}

// Transaction is one charging session as the vendor reports it. Records are
// immutable; timestamps stay in the vendor's ISO 8601 form so ordering and
// attributes round-trip unmodified.
type Transaction struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"`
	ChargepointID string   `json:"chargepointId"`
	VisualNumber  string   `json:"visualNumber"`
	StartDateTime string   `json:"startDateTime"`
	EndDateTime   string   `json:"endDateTime"`
	TotalEnergy   *float64 `json:"totalEnergy"`
	TotalCost     *float64 `json:"totalCost"`
	Status        string   `json:"status"`
	ErrorCode     string   `json:"errorCode"`
}

// Completed reports whether the session has finished; only completed
// sessions carry final energy and cost figures.
func (t Transaction) Completed() bool {
	return t.EndDateTime != ""
}

// TransactionPage is one page of the transaction listing, newest first.
type TransactionPage struct {
	TotalCount int           `json:"totalCount"`
	Items      []Transaction `json:"items"`
}
