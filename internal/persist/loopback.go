package persist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/config"
	"github.com/midgard/mapserver/internal/intif"
)

// Loopback is an intif.Transport that serves persistence requests from
// the local database instead of a remote char server. Database work runs
// off the game loop; finished acks queue up and the game loop drains
// them with Pump every tick, so futures still resolve on the loop.
type Loopback struct {
	companions *CompanionRepo
	storages   *StorageRepo
	guilds     *GuildRepo
	parties    *PartyRepo
	characters *CharacterRepo
	accounts   *AccountRepo
	log        *zap.Logger
	timeout    time.Duration

	mu   sync.Mutex
	acks []intif.Ack
}

// NewLoopback wires the loopback backend. The link secret is verified
// up front: a standalone server still honors the configured passphrase.
func NewLoopback(cfg config.IntifConfig, db *DB, passphrase string, log *zap.Logger) (*Loopback, error) {
	if err := VerifyLinkSecret(cfg.SecretHash, passphrase); err != nil {
		return nil, err
	}
	return &Loopback{
		companions: NewCompanionRepo(db),
		storages:   NewStorageRepo(db),
		guilds:     NewGuildRepo(db),
		parties:    NewPartyRepo(db),
		characters: NewCharacterRepo(db),
		accounts:   NewAccountRepo(db),
		log:        log,
		timeout:    cfg.RequestTimeout.Std(),
	}, nil
}

// Send queues the request for execution. Never fails: errors surface
// through the ack.
func (l *Loopback) Send(req intif.Request) error {
	go l.serve(req)
	return nil
}

// Pump delivers finished acks to the client on the caller's goroutine.
func (l *Loopback) Pump(cli *intif.Client) {
	l.mu.Lock()
	acks := l.acks
	l.acks = nil
	l.mu.Unlock()
	for _, ack := range acks {
		cli.Deliver(ack)
	}
}

func (l *Loopback) serve(req intif.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	payload, err := l.handle(ctx, req)
	if req.Seq == 0 {
		// Fire-and-forget notification; nothing to ack.
		if err != nil {
			l.log.Warn("persistence write failed",
				zap.Uint16("kind", uint16(req.Kind)),
				zap.Error(err),
			)
		}
		return
	}
	ack := intif.Ack{Seq: req.Seq, Kind: req.Kind, Payload: payload}
	if err != nil {
		ack.Err = err.Error()
	}
	l.mu.Lock()
	l.acks = append(l.acks, ack)
	l.mu.Unlock()
}

// payloadAs rejects malformed payloads instead of panicking the serve
// goroutine; the error travels back through the ack.
func payloadAs[T any](req intif.Request) (T, error) {
	v, ok := req.Payload.(T)
	if !ok {
		return v, fmt.Errorf("kind %d: unexpected payload %T", req.Kind, req.Payload)
	}
	return v, nil
}

func (l *Loopback) handle(ctx context.Context, req intif.Request) (any, error) {
	switch req.Kind {
	case intif.KindHomunculusCreate:
		rec, err := payloadAs[intif.HomunculusRecord](req)
		if err != nil {
			return nil, err
		}
		id, err := l.companions.CreateHomunculus(ctx, rec)
		if err != nil {
			return nil, err
		}
		rec.HomunID = id
		return rec, nil
	case intif.KindHomunculusLoad:
		id, err := payloadAs[int64](req)
		if err != nil {
			return nil, err
		}
		return l.companions.LoadHomunculus(ctx, id)
	case intif.KindHomunculusSave:
		rec, err := payloadAs[intif.HomunculusRecord](req)
		if err != nil {
			return nil, err
		}
		return nil, l.companions.SaveHomunculus(ctx, rec)
	case intif.KindHomunculusRename:
		rec, err := payloadAs[intif.HomunculusRecord](req)
		if err != nil {
			return nil, err
		}
		return nil, l.companions.RenameHomunculus(ctx, rec.HomunID, rec.Name)
	case intif.KindHomunculusDelete:
		id, err := payloadAs[int64](req)
		if err != nil {
			return nil, err
		}
		return nil, l.companions.DeleteHomunculus(ctx, id)

	case intif.KindMercenaryCreate:
		rec, err := payloadAs[intif.MercenaryRecord](req)
		if err != nil {
			return nil, err
		}
		id, err := l.companions.CreateMercenary(ctx, rec)
		if err != nil {
			return nil, err
		}
		rec.MercID = id
		return rec, nil
	case intif.KindMercenaryLoad:
		id, err := payloadAs[int64](req)
		if err != nil {
			return nil, err
		}
		return l.companions.LoadMercenary(ctx, id)
	case intif.KindMercenarySave:
		rec, err := payloadAs[intif.MercenaryRecord](req)
		if err != nil {
			return nil, err
		}
		return nil, l.companions.SaveMercenary(ctx, rec)
	case intif.KindMercenaryDelete:
		id, err := payloadAs[int64](req)
		if err != nil {
			return nil, err
		}
		return nil, l.companions.DeleteMercenary(ctx, id)

	case intif.KindElementalCreate:
		rec, err := payloadAs[intif.ElementalRecord](req)
		if err != nil {
			return nil, err
		}
		id, err := l.companions.CreateElemental(ctx, rec)
		if err != nil {
			return nil, err
		}
		rec.ElemID = id
		return rec, nil
	case intif.KindElementalLoad:
		id, err := payloadAs[int64](req)
		if err != nil {
			return nil, err
		}
		return l.companions.LoadElemental(ctx, id)
	case intif.KindElementalSave:
		rec, err := payloadAs[intif.ElementalRecord](req)
		if err != nil {
			return nil, err
		}
		return nil, l.companions.SaveElemental(ctx, rec)
	case intif.KindElementalDelete:
		id, err := payloadAs[int64](req)
		if err != nil {
			return nil, err
		}
		return nil, l.companions.DeleteElemental(ctx, id)

	case intif.KindStorageLoad, intif.KindGuildStorageLoad:
		key, err := payloadAs[intif.StorageLoadKey](req)
		if err != nil {
			return nil, err
		}
		rows, err := l.storages.Load(ctx, StorageKey{
			AccountID: key.AccountID,
			GuildID:   key.GuildID,
			Premium:   key.Premium,
		})
		if err != nil {
			return nil, err
		}
		rec := intif.StorageRecord{
			AccountID: key.AccountID,
			GuildID:   key.GuildID,
			Premium:   key.Premium,
		}
		return storageRecord(rec, rows), nil
	case intif.KindStorageSave, intif.KindGuildStorageSave:
		rec, err := payloadAs[intif.StorageRecord](req)
		if err != nil {
			return nil, err
		}
		key := StorageKey{AccountID: rec.AccountID, GuildID: rec.GuildID, Premium: rec.Premium}
		return rec, l.storages.Save(ctx, key, storageRows(rec))

	case intif.KindGuildCreate:
		rec, err := payloadAs[intif.GuildRecord](req)
		if err != nil {
			return nil, err
		}
		id, err := l.guilds.Create(ctx, rec)
		if err != nil {
			return nil, err
		}
		rec.GuildID = id
		return rec, nil
	case intif.KindGuildSave:
		rec, err := payloadAs[intif.GuildRecord](req)
		if err != nil {
			return nil, err
		}
		return nil, l.guilds.Save(ctx, rec)
	case intif.KindGuildMemberUpdate:
		rec, err := payloadAs[intif.GuildMemberRecord](req)
		if err != nil {
			return nil, err
		}
		return intif.GuildRecord{GuildID: rec.GuildID}, l.guilds.UpdateMember(ctx, rec)

	case intif.KindPartyCreate:
		rec, err := payloadAs[intif.PartyRecord](req)
		if err != nil {
			return nil, err
		}
		id, err := l.parties.Create(ctx, rec)
		if err != nil {
			return nil, err
		}
		rec.PartyID = id
		return rec, nil
	case intif.KindPartySave:
		rec, err := payloadAs[intif.PartyRecord](req)
		if err != nil {
			return nil, err
		}
		return rec, l.parties.Save(ctx, rec)

	case intif.KindCharacterSave:
		rec, err := payloadAs[intif.CharacterRecord](req)
		if err != nil {
			return nil, err
		}
		return nil, l.characters.Save(ctx, rec)

	case intif.KindAccountInfo:
		id, err := payloadAs[int32](req)
		if err != nil {
			return nil, err
		}
		return l.accounts.Info(ctx, id)
	}
	return nil, fmt.Errorf("unhandled request kind %d", req.Kind)
}

func storageRecord(rec intif.StorageRecord, rows []StorageRow) intif.StorageRecord {
	for _, it := range rows {
		rec.Items = append(rec.Items, intif.StorageItem{
			ItemID:    it.ItemID,
			Amount:    it.Amount,
			Refine:    int8(it.Refine),
			Attribute: int8(it.Attribute),
			Cards:     it.Cards,
			Bound:     int8(it.Bound),
			UniqueID:  it.UniqueID,
			ExpireAt:  it.ExpireAt,
		})
	}
	return rec
}

func storageRows(rec intif.StorageRecord) []StorageRow {
	rows := make([]StorageRow, 0, len(rec.Items))
	for _, it := range rec.Items {
		rows = append(rows, StorageRow{
			ItemID:    it.ItemID,
			Amount:    it.Amount,
			Refine:    int16(it.Refine),
			Attribute: int16(it.Attribute),
			Cards:     it.Cards,
			Bound:     int16(it.Bound),
			UniqueID:  it.UniqueID,
			ExpireAt:  it.ExpireAt,
		})
	}
	return rows
}
