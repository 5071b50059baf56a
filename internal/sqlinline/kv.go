package sqlinline

const QEnsureKVSchema = `--sql 61020f09-32f5-47da-bf79-dd80e032dc3b
create table if not exists closet_kv (
    key text primary key,
    value bytea not null,
    updated_at timestamptz not null default now()
);
`

// QLockKV serializes writers for the duration of the enclosing transaction.
const QLockKV = `--sql 5e96dcac-72d2-49cc-90f0-a3282a3b6cbe
select pg_advisory_xact_lock(hashtext('closet_kv'));
`

const QSelectKV = `--sql 7d4b0dc0-798d-4baf-a57d-9d3a5f48efbd
select value
from closet_kv
where key = $1::text
limit 1;
`

const QUpsertKV = `--sql 37e7591e-15c6-4aa5-9531-aa29bb06584e
insert into closet_kv (key, value, updated_at)
values ($1::text, $2::bytea, now())
on conflict (key) do update set
    value = excluded.value,
    updated_at = excluded.updated_at;
`

const QDeleteKV = `--sql 579c705e-82fc-47b7-95c2-6c77279484e8
delete from closet_kv
where key = $1::text;
`

// All lists every query for marker linting.
var All = map[string]string{
	"QEnsureKVSchema": QEnsureKVSchema,
	"QLockKV":         QLockKV,
	"QSelectKV":       QSelectKV,
	"QUpsertKV":       QUpsertKV,
	"QDeleteKV":       QDeleteKV,
}
