package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/PayRelay/app/models"
	"github.com/ManuelReschke/PayRelay/app/repository"
	"github.com/ManuelReschke/PayRelay/internal/pkg/square"
	"github.com/ManuelReschke/PayRelay/internal/pkg/webhook"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// CustomerProcessor handles customer.created, customer.updated and customer.deleted.
// Local customers are unique by email; a new Square id for a known email
// takes over the existing row.
type CustomerProcessor struct {
	repos *repository.Repositories
	now   func() time.Time
}

func (p *CustomerProcessor) Process(ctx context.Context, event webhook.Event) Result {
	ce, ok := event.(*webhook.CustomerEvent)
	if !ok {
		return failed(KindValidation, fmt.Errorf("customer processor got %T", event))
	}
	if ce.Deleted {
		return p.delete(ctx, &ce.Customer)
	}
	res, _ := p.Upsert(ctx, &ce.Customer)
	return res
}

// Upsert applies remote and returns the stored row when something was written
// or already current.
func (p *CustomerProcessor) Upsert(ctx context.Context, remote *square.Customer) (Result, *models.Customer) {
	existing, err := p.repos.Customer.GetBySquareID(ctx, remote.ID)
	if err != nil && !isNotFound(err) {
		return storeFailure("load customer", err), nil
	}

	if existing != nil {
		if remote.Version <= existing.RemoteVersion && !(remote.Version == 0 && existing.RemoteVersion == 0) {
			return skipped(KindNone, "customer %s version %d not after %d", remote.ID, remote.Version, existing.RemoteVersion), existing
		}
		p.copyRemote(existing, remote)
		existing.DeletedAt = gorm.DeletedAt{}
		if err := p.repos.Customer.UpdateVersioned(ctx, existing); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return failed(KindDataIntegrity, fmt.Errorf("customer %s: email %s belongs to another customer", remote.ID, existing.EmailAddress())), nil
			}
			return storeFailure("update customer", err), nil
		}
		return applied(), existing
	}

	email := models.NormalizeEmail(remote.EmailAddress)
	if email != "" {
		byEmail, err := p.repos.Customer.GetByEmail(ctx, email)
		if err != nil && !isNotFound(err) {
			return storeFailure("load customer by email", err), nil
		}
		if byEmail != nil {
			previous := byEmail.SquareCustomerID
			p.copyRemote(byEmail, remote)
			byEmail.SquareCustomerID = remote.ID
			byEmail.DeletedAt = gorm.DeletedAt{}
			if err := p.repos.Customer.UpdateVersioned(ctx, byEmail); err != nil {
				return storeFailure("relink customer", err), nil
			}
			log.Infof("[Payments] Customer %s relinked from Square id %s to %s", email, previous, remote.ID)
			return applied(), byEmail
		}
	}

	created := &models.Customer{SquareCustomerID: remote.ID}
	p.copyRemote(created, remote)
	if err := p.repos.Customer.Create(ctx, created); err != nil {
		return storeFailure("create customer", err), nil
	}
	log.Infof("[Payments] Created customer %s", remote.ID)
	return applied(), created
}

func (p *CustomerProcessor) delete(ctx context.Context, remote *square.Customer) Result {
	existing, err := p.repos.Customer.GetBySquareID(ctx, remote.ID)
	if err != nil {
		if isNotFound(err) {
			return skipped(KindNone, "customer %s is not known locally", remote.ID)
		}
		return storeFailure("load customer", err)
	}
	if existing.DeletedAt.Valid {
		return skipped(KindNone, "customer %s already deleted", remote.ID)
	}
	now := p.now()
	existing.DeletedAt = gorm.DeletedAt{Time: now, Valid: true}
	existing.SyncedAt = &now
	if remote.Version > existing.RemoteVersion {
		existing.RemoteVersion = remote.Version
	}
	if err := p.repos.Customer.UpdateVersioned(ctx, existing); err != nil {
		return storeFailure("delete customer", err)
	}
	log.Infof("[Payments] Soft-deleted customer %s", remote.ID)
	return applied()
}

func (p *CustomerProcessor) copyRemote(dst *models.Customer, remote *square.Customer) {
	now := p.now()
	if remote.EmailAddress != "" {
		dst.SetEmail(remote.EmailAddress)
	}
	dst.GivenName = remote.GivenName
	dst.FamilyName = remote.FamilyName
	dst.CompanyName = remote.CompanyName
	dst.Phone = remote.PhoneNumber
	if a := remote.Address; a != nil {
		dst.AddressLine1 = a.AddressLine1
		dst.AddressLine2 = a.AddressLine2
		dst.Locality = a.Locality
		dst.Region = a.AdministrativeDistrictLevel1
		dst.PostalCode = a.PostalCode
		dst.Country = a.Country
	}
	dst.RemoteVersion = remote.Version
	dst.SyncStatus = models.SyncStatusSynced
	dst.SyncedAt = &now
}
