package sheets

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
	"github.com/Dan-Hightower/hirebot/internal/domain/offer"
)

// Column layout, A through P.
const (
	colTimestamp = iota
	colHiringManager
	colRole
	colSalary
	colEquity
	colStartDate
	colHandle
	colFullName
	colAddress
	colPersonalEmail
	colPhoneNumber
	colCurrentTitle
	colOfferID
	colShares
	colProfileID
	colProvisioningNote
	columnCount
)

const (
	firstColumn  = "A"
	lastColumn   = "P"
	handleColumn = "G"
)

// Header is the expected first row of the sheet.
var Header = []string{
	"Timestamp", "Hiring Manager", "Role", "Salary", "Equity", "Start Date",
	"Slack Handle", "Full Legal Name", "Address", "Personal Email",
	"Phone Number", "Current Title", "Offer ID", "Shares",
	"Deel Profile ID", "Provisioning Note",
}

// checkHeader compares a sheet's first row with Header. Cell case and
// surrounding space are ignored.
func checkHeader(cells []interface{}) error {
	const op = "sheets.check_header"
	if len(cells) == 0 {
		return failure.Newf(op, failure.ErrValidation, "row 1 is empty, expected header %q", strings.Join(Header, ", "))
	}
	for i, want := range Header {
		var got string
		if i < len(cells) {
			got = strings.TrimSpace(fmt.Sprint(cells[i]))
		}
		if !strings.EqualFold(got, want) {
			return failure.Newf(op, failure.ErrValidation, "column %c is %q, expected %q", rune('A'+i), got, want)
		}
	}
	return nil
}

var rowNumRe = regexp.MustCompile(`^[A-Z]+(\d+)`)

// toRow flattens rec into the sheet's column order.
func toRow(rec offer.Record) []interface{} {
	row := make([]interface{}, columnCount)
	ts := rec.CreatedAt
	if ts.IsZero() {
		ts = rec.UpdatedAt
	}
	row[colTimestamp] = ts.UTC().Format(time.RFC3339)
	row[colHiringManager] = rec.HiringManager
	row[colRole] = rec.Role
	row[colSalary] = rec.Salary
	row[colEquity] = rec.EquityPercent
	row[colStartDate] = rec.StartDate
	row[colHandle] = rec.Handle
	row[colOfferID] = rec.OfferID
	row[colShares] = rec.SharesDisplay()
	for i := colFullName; i <= colCurrentTitle; i++ {
		row[i] = ""
	}
	row[colProfileID] = ""
	row[colProvisioningNote] = ""

	if ob := rec.Onboarding; ob != nil {
		row[colFullName] = ob.FullName
		row[colAddress] = ob.Address
		row[colPersonalEmail] = ob.PersonalEmail
		row[colPhoneNumber] = ob.PhoneNumber
		row[colCurrentTitle] = ob.CurrentTitle
		row[colProfileID] = rec.ProfileID()
		row[colProvisioningNote] = ob.ProvisioningError
	}
	return row
}

// quoteSheet quotes a sheet title for use in A1 notation.
func quoteSheet(name string) string {
	if strings.IndexFunc(name, func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z')
	}) < 0 {
		return name
	}
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func rangeFor(sheet, cells string) string {
	return quoteSheet(sheet) + "!" + cells
}

func rowRange(sheet string, row int) string {
	return rangeFor(sheet, fmt.Sprintf("%s%d:%s%d", firstColumn, row, lastColumn, row))
}

// rowFromRange extracts the first row number of an A1 range like
// "Sheet1!A5:P5".
func rowFromRange(a1 string) (int, bool) {
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		a1 = a1[i+1:]
	}
	m := rowNumRe.FindStringSubmatch(a1)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// sameHandle reports whether a stored handle cell refers to handle.
func sameHandle(cell, handle string) bool {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return false
	}
	if cell == handle {
		return true
	}
	a, b := offer.ParseHandle(cell), offer.ParseHandle(handle)
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.ID == "" && b.ID == "" && strings.EqualFold(a.Name, b.Name)
}
