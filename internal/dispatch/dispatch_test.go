package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/core"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/dispatch"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/provider"
	"github.com/stretchr/testify/require"
)

// fakeProvider fails for recipients listed in failFor and records every send.
type fakeProvider struct {
	mu      sync.Mutex
	sent    []provider.Message
	failFor map[string]error
}

func (f *fakeProvider) Send(ctx context.Context, msg provider.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if err, ok := f.failFor[msg.To]; ok {
		return "", err
	}
	return fmt.Sprintf("prov-%d", len(f.sent)), nil
}

// countingPacer records how often the loop paused.
type countingPacer struct{ waits int }

func (p *countingPacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.waits++
	return nil
}

// memAudit collects audit rows in memory.
type memAudit struct {
	mu   sync.Mutex
	rows []core.OutboundMessage
	err  error
}

func (a *memAudit) RecordOutbound(ctx context.Context, m core.OutboundMessage) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	a.rows = append(a.rows, m)
	return fmt.Sprintf("row-%d", len(a.rows)), nil
}

func newDispatcher(prov *fakeProvider, audit *memAudit, pacer dispatch.Pacer) *dispatch.Dispatcher {
	return &dispatch.Dispatcher{Provider: prov, Audit: audit, Pacer: pacer}
}

func TestSendBulkOrderAndSummary(t *testing.T) {
	prov := &fakeProvider{failFor: map[string]error{
		"5511900000002": errors.New("provider_temporary_error"),
	}}
	audit := &memAudit{}
	pacer := &countingPacer{}
	d := newDispatcher(prov, audit, pacer)

	res := d.SendBulk(context.Background(), dispatch.BulkRequest{
		Recipients: []string{"11900000001", "11900000002", "11900000003"},
		Message:    "Olá!",
	})

	require.Len(t, res.Results, 3)
	require.Equal(t, "5511900000001", res.Results[0].Phone)
	require.Equal(t, "5511900000002", res.Results[1].Phone)
	require.Equal(t, "5511900000003", res.Results[2].Phone)

	require.True(t, res.Results[0].Success)
	require.False(t, res.Results[1].Success)
	require.Contains(t, res.Results[1].Error, "provider_temporary_error")
	require.True(t, res.Results[2].Success)

	require.Equal(t, 3, res.Summary.Total)
	require.Equal(t, 2, res.Summary.Successful)
	require.Equal(t, 1, res.Summary.Failed)
	require.Equal(t, res.Summary.Total, res.Summary.Successful+res.Summary.Failed)

	// paced before every send, never after the last one
	require.Equal(t, 3, pacer.waits)

	// one audit row per recipient, failure isolated to index 1
	require.Len(t, audit.rows, 3)
	require.Equal(t, core.StatusSent, audit.rows[0].Status)
	require.Equal(t, core.StatusFailed, audit.rows[1].Status)
	require.NotNil(t, audit.rows[1].ErrorMessage)
	require.Equal(t, core.StatusSent, audit.rows[2].Status)
}

func TestSendBulkRendersPerRecipientVariables(t *testing.T) {
	prov := &fakeProvider{}
	d := newDispatcher(prov, &memAudit{}, &countingPacer{})

	res := d.SendBulk(context.Background(), dispatch.BulkRequest{
		Recipients: []string{"11987654321", "5511987654321"},
		Message:    "Olá {{nome}}!",
		Variables:  []map[string]string{{"nome": "Ana"}, {"nome": "Bruno"}},
	})

	require.Equal(t, 2, res.Summary.Successful)
	require.Len(t, prov.sent, 2)
	require.Equal(t, "5511987654321", prov.sent[0].To)
	require.Equal(t, "5511987654321", prov.sent[1].To)
	require.Equal(t, "Olá Ana!", prov.sent[0].Body)
	require.Equal(t, "Olá Bruno!", prov.sent[1].Body)
}

func TestSendBulkMissingVariablesLeavePlaceholders(t *testing.T) {
	prov := &fakeProvider{}
	d := newDispatcher(prov, &memAudit{}, &countingPacer{})

	res := d.SendBulk(context.Background(), dispatch.BulkRequest{
		Recipients: []string{"11987654321", "11987654322"},
		Message:    "Olá {{nome}}!",
		Variables:  []map[string]string{{"nome": "Ana"}},
	})

	require.Equal(t, 2, res.Summary.Total)
	require.Equal(t, "Olá Ana!", prov.sent[0].Body)
	require.Equal(t, "Olá {{nome}}!", prov.sent[1].Body)
}

func TestSendBulkAuditFailureDoesNotAbort(t *testing.T) {
	prov := &fakeProvider{}
	audit := &memAudit{err: errors.New("log table down")}
	d := newDispatcher(prov, audit, &countingPacer{})

	res := d.SendBulk(context.Background(), dispatch.BulkRequest{
		Recipients: []string{"11987654321", "11987654322"},
		Message:    "oi",
	})

	require.Equal(t, 2, res.Summary.Successful)
	require.Len(t, prov.sent, 2)
}

func TestSendBulkCancellationMarksRemainderFailed(t *testing.T) {
	prov := &fakeProvider{}
	ctx, cancel := context.WithCancel(context.Background())

	// cancel after the first send completes
	cancelingProv := providerFunc(func(c context.Context, msg provider.Message) (string, error) {
		id, err := prov.Send(c, msg)
		cancel()
		return id, err
	})
	d := &dispatch.Dispatcher{Provider: cancelingProv, Audit: &memAudit{}, Pacer: &countingPacer{}}

	res := d.SendBulk(ctx, dispatch.BulkRequest{
		Recipients: []string{"11900000001", "11900000002", "11900000003"},
		Message:    "oi",
	})

	require.Len(t, res.Results, 3)
	require.True(t, res.Results[0].Success)
	require.False(t, res.Results[1].Success)
	require.False(t, res.Results[2].Success)
	require.Equal(t, 1, res.Summary.Successful)
	require.Equal(t, 2, res.Summary.Failed)
	require.Len(t, prov.sent, 1)
}

type providerFunc func(ctx context.Context, msg provider.Message) (string, error)

func (f providerFunc) Send(ctx context.Context, msg provider.Message) (string, error) {
	return f(ctx, msg)
}

func TestSendOneTemplateAuditType(t *testing.T) {
	prov := &fakeProvider{}
	audit := &memAudit{}
	d := newDispatcher(prov, audit, &countingPacer{})

	res := d.SendOne(context.Background(), dispatch.SendRequest{
		Phone:      "11987654321",
		Template:   &provider.TemplateRef{Name: "boas_vindas", Params: []string{"Ana"}},
		CampaignID: "camp-1",
	})

	require.True(t, res.Success)
	require.Len(t, audit.rows, 1)
	require.Equal(t, core.TypeTemplate, audit.rows[0].Type)
	require.NotNil(t, audit.rows[0].CampaignID)
	require.Equal(t, "camp-1", *audit.rows[0].CampaignID)
}
