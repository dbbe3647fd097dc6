package credits

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	rdsdatatypes "github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/rs/zerolog/log"
)

// DataAPILedger implements Ledger against the billing service's Aurora
// cluster via the RDS Data API. The orchestrator has read and conditional
// debit access to the credit_accounts table, nothing else.
type DataAPILedger struct {
	client     *rdsdata.Client
	clusterARN string
	secretARN  string
	database   string
}

// NewDataAPILedger creates a ledger adapter for the given Aurora cluster.
func NewDataAPILedger(client *rdsdata.Client, clusterARN, secretARN, database string) *DataAPILedger {
	return &DataAPILedger{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		database:   database,
	}
}

// Compile-time interface check.
var _ Ledger = (*DataAPILedger)(nil)

// Balance reads the current credit balance for an owner. A missing account
// row reads as zero credits rather than an error.
func (l *DataAPILedger) Balance(ctx context.Context, ownerID string) (int, error) {
	out, err := l.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn: aws.String(l.clusterARN),
		SecretArn:   aws.String(l.secretARN),
		Database:    aws.String(l.database),
		Sql:         aws.String(`SELECT balance FROM credit_accounts WHERE owner_id = :owner_id`),
		Parameters: []rdsdatatypes.SqlParameter{
			{Name: aws.String("owner_id"), Value: &rdsdatatypes.FieldMemberStringValue{Value: ownerID}},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("read balance for %s: %w", ownerID, err)
	}

	if len(out.Records) == 0 || len(out.Records[0]) == 0 {
		return 0, nil
	}
	field, ok := out.Records[0][0].(*rdsdatatypes.FieldMemberLongValue)
	if !ok {
		return 0, fmt.Errorf("unexpected balance field type for %s", ownerID)
	}
	return int(field.Value), nil
}

// Reserve debits amount from the owner's balance. The conditional UPDATE
// makes the check-and-debit a single statement; zero updated rows means
// the balance no longer covers the amount.
func (l *DataAPILedger) Reserve(ctx context.Context, ownerID string, amount int) error {
	out, err := l.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn: aws.String(l.clusterARN),
		SecretArn:   aws.String(l.secretARN),
		Database:    aws.String(l.database),
		Sql: aws.String(`UPDATE credit_accounts
			SET balance = balance - :amount, updated_at = NOW()
			WHERE owner_id = :owner_id AND balance >= :amount`),
		Parameters: []rdsdatatypes.SqlParameter{
			{Name: aws.String("owner_id"), Value: &rdsdatatypes.FieldMemberStringValue{Value: ownerID}},
			{Name: aws.String("amount"), Value: &rdsdatatypes.FieldMemberLongValue{Value: int64(amount)}},
		},
	})
	if err != nil {
		return fmt.Errorf("reserve %d credits for %s: %w", amount, ownerID, err)
	}
	if out.NumberOfRecordsUpdated == 0 {
		return ErrInsufficientCredits
	}

	log.Debug().
		Str("ownerId", ownerID).
		Int("amount", amount).
		Msg("Credits reserved")
	return nil
}
